package codec

import (
	"github.com/pegacorn/hestia/pkg/types"
)

// Table names.
const (
	TableAuditEvent          = "AUDIT_EVENT"
	TableTask                = "TASK"
	TableDevice              = "DEVICE"
	TableDeviceMetric        = "DEVICE_METRIC"
	TableCapabilityStatement = "CAPABILITY_STATEMENT"
)

// AuditEvent qualifiers.
const (
	AuditAgentName   = "NAME"
	AuditUpdated     = "DATE"
	AuditPeriodStart = "START"
	AuditPeriodEnd   = "END"
	AuditSourceSite  = "SOURCE"
	AuditEntityType  = "TYPE"
	AuditEntityName  = "ENTITY"
	AuditPurpose     = "PURPOSE"
)

// Task qualifiers.
const (
	TaskStatus   = "STATUS"
	TaskLocation = "LOC"
	TaskCode     = "CODE"
	TaskPartOf   = "PART"
	TaskBasedOn  = "BASED"
	TaskOwner    = "OWNER"
	TaskFocus    = "FOCUS"
)

// Device qualifiers.
const (
	DeviceType         = "TYPE"
	DeviceStatus       = "STATUS"
	DeviceManufacturer = "MANUFACTURER"
	DeviceModel        = "MODEL"
	DeviceOwner        = "OWNER"
	DeviceLocation     = "LOC"
)

// DeviceMetric qualifiers.
const (
	MetricType   = "TYPE"
	MetricUnit   = "UNIT"
	MetricSource = "SOURCE"
	MetricParent = "PARENT"
)

// NewAuditEventCodec indexes agent name, last update, period, source site,
// entity types and names, and purpose of event.
func NewAuditEventCodec() Codec {
	return &kindCodec{kind: types.KindAuditEvent, table: TableAuditEvent, index: indexAuditEvent}
}

func indexAuditEvent(r *types.Record, cols *columns) error {
	var ev types.AuditEvent
	if err := types.DecodeView(r, &ev); err != nil {
		return err
	}

	names := make([]string, 0, len(ev.Agent))
	for _, a := range ev.Agent {
		names = append(names, a.Name)
	}
	cols.first(AuditAgentName, names...)

	if ev.Meta != nil {
		if err := cols.instant(AuditUpdated, ev.Meta.LastUpdated); err != nil {
			return err
		}
	}
	if ev.Period != nil {
		if err := cols.instant(AuditPeriodStart, ev.Period.Start); err != nil {
			return err
		}
		if err := cols.instant(AuditPeriodEnd, ev.Period.End); err != nil {
			return err
		}
	}
	if ev.Source != nil {
		cols.text(AuditSourceSite, ev.Source.Site)
	}

	var codes, entityNames []string
	for _, e := range ev.Entity {
		if e.Type != nil {
			codes = append(codes, e.Type.Code)
		}
		entityNames = append(entityNames, e.Name)
	}
	cols.joined(AuditEntityType, codes)
	cols.joined(AuditEntityName, entityNames)

	purposes := make([]string, 0, len(ev.PurposeOfEvent))
	for _, p := range ev.PurposeOfEvent {
		purposes = append(purposes, p.Text)
	}
	cols.joined(AuditPurpose, purposes)
	return nil
}

// NewTaskCodec indexes status, location, code, partOf, basedOn, owner and
// focus.
func NewTaskCodec() Codec {
	return &kindCodec{kind: types.KindTask, table: TableTask, index: indexTask}
}

func indexTask(r *types.Record, cols *columns) error {
	var task types.Task
	if err := types.DecodeView(r, &task); err != nil {
		return err
	}
	cols.text(TaskStatus, task.Status)
	cols.text(TaskLocation, reference(task.Location))
	cols.text(TaskCode, conceptText(task.Code))
	cols.first(TaskPartOf, references(task.PartOf)...)
	cols.first(TaskBasedOn, references(task.BasedOn)...)
	cols.text(TaskOwner, reference(task.Owner))
	cols.text(TaskFocus, reference(task.Focus))
	return nil
}

// NewDeviceCodec indexes type, status, manufacturer, model, owner and
// location.
func NewDeviceCodec() Codec {
	return &kindCodec{kind: types.KindDevice, table: TableDevice, index: indexDevice}
}

func indexDevice(r *types.Record, cols *columns) error {
	var d types.Device
	if err := types.DecodeView(r, &d); err != nil {
		return err
	}
	cols.text(DeviceType, conceptText(d.Type))
	cols.text(DeviceStatus, d.Status)
	cols.text(DeviceManufacturer, d.Manufacturer)
	cols.text(DeviceModel, d.ModelNumber)
	cols.text(DeviceOwner, reference(d.Owner))
	cols.text(DeviceLocation, reference(d.Location))
	return nil
}

// NewDeviceMetricCodec indexes type, unit, source and parent.
func NewDeviceMetricCodec() Codec {
	return &kindCodec{kind: types.KindDeviceMetric, table: TableDeviceMetric, index: indexDeviceMetric}
}

func indexDeviceMetric(r *types.Record, cols *columns) error {
	var m types.DeviceMetric
	if err := types.DecodeView(r, &m); err != nil {
		return err
	}
	cols.text(MetricType, conceptText(m.Type))
	cols.text(MetricUnit, conceptText(m.Unit))
	cols.text(MetricSource, reference(m.Source))
	cols.text(MetricParent, reference(m.Parent))
	return nil
}

// NewCapabilityStatementCodec stores the body only.
func NewCapabilityStatementCodec() Codec {
	return &kindCodec{kind: types.KindCapabilityStatement, table: TableCapabilityStatement}
}

func reference(ref *types.Reference) string {
	if ref == nil {
		return ""
	}
	return ref.Reference
}

func references(refs []types.Reference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Reference
	}
	return out
}

func conceptText(c *types.CodeableConcept) string {
	if c == nil {
		return ""
	}
	return c.Text
}
