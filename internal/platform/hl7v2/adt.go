package hl7v2

import (
	"strings"
	"time"

	"github.com/UCLH-DHCT/emap-sub000/internal/domain/person"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/ingest"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Mapper turns parsed ADT messages into ingestion messages. Zoneless HL7
// timestamps are read in Location, the hospital's local zone.
type Mapper struct {
	Location *time.Location
}

// MapADT maps one parsed message onto its ingestion message. Trigger events
// the pipeline does not consume come back as ignored.
func (mp *Mapper) MapADT(msg *Message) (ingest.Message, error) {
	switch msg.Trigger {
	case "A01":
		return mp.mapAdmit(msg)
	case "A04":
		return mp.mapRegister(msg)
	case "A02":
		return mp.mapTransfer(msg)
	case "A03":
		return mp.mapDischarge(msg)
	case "A08", "A28", "A31":
		return mp.mapUpdatePatientInfo(msg)
	case "A11":
		return mp.mapCancelAdmit(msg)
	case "A12":
		return mp.mapCancelTransfer(msg)
	case "A13":
		return mp.mapCancelDischarge(msg)
	case "A17":
		return mp.mapSwapLocations(msg)
	case "A40":
		return mp.mapMergeIdentity(msg)
	case "A47":
		return mp.mapChangeIdentifiers(msg)
	case "A29":
		return mp.mapDeletePersonInformation(msg)
	default:
		return nil, fault.Ignoredf("unsupported ADT trigger %s", msg.Trigger)
	}
}

func (mp *Mapper) mapAdmit(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	location := pv1.Field(3)
	return ingest.Admit{
		Identifiers:   identifiersFromPID(msg.Segment("PID")),
		SourceSystem:  msg.SendingApp,
		Encounter:     pv1.Component(19, 1),
		Location:      location,
		PoolLocation:  isPoolLocation(location),
		AdmissionTime: mp.timeValue(pv1.Field(44)),
		PatientClass:  temporal.ValueFromHL7(pv1.Field(2)),
		ArrivalMethod: temporal.ValueFromHL7(pv1.Field(14)),
		EventTime:     mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapRegister(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	presentation := mp.timeValue(pv1.Field(44))
	if presentation.IsUnknown() {
		presentation = temporal.From(mp.eventTime(msg))
	}
	return ingest.Register{
		Identifiers:      identifiersFromPID(msg.Segment("PID")),
		SourceSystem:     msg.SendingApp,
		Encounter:        pv1.Component(19, 1),
		PresentationTime: presentation,
		PatientClass:     temporal.ValueFromHL7(pv1.Field(2)),
		EventTime:        mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapTransfer(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil || pv1.Field(3) == "" {
		return nil, fault.ErrRequiredDataMissing
	}
	return ingest.Transfer{
		Identifiers:  identifiersFromPID(msg.Segment("PID")),
		SourceSystem: msg.SendingApp,
		Encounter:    pv1.Component(19, 1),
		Location:     pv1.Field(3),
		PatientClass: temporal.ValueFromHL7(pv1.Field(2)),
		EventTime:    mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapDischarge(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	dischargeTime := mp.eventTime(msg)
	if t, err := ParseTimestamp(pv1.Field(45), mp.Location); err == nil {
		dischargeTime = t
	}
	return ingest.Discharge{
		Identifiers:          identifiersFromPID(msg.Segment("PID")),
		SourceSystem:         msg.SendingApp,
		Encounter:            pv1.Component(19, 1),
		Location:             pv1.Field(3),
		DischargeTime:        dischargeTime,
		DischargeDisposition: temporal.ValueFromHL7(pv1.Field(36)),
		DischargeDestination: temporal.ValueFromHL7(pv1.Field(37)),
		EventTime:            mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapUpdatePatientInfo(msg *Message) (ingest.Message, error) {
	pid := msg.Segment("PID")
	if pid == nil {
		return nil, fault.ErrRequiredDataMissing
	}

	upd := ingest.UpdatePatientInfo{
		Identifiers:  identifiersFromPID(pid),
		SourceSystem: msg.SendingApp,
		Demographics: mp.demographicsFromPID(pid),
		EventTime:    mp.eventTime(msg),
	}
	if pv1 := msg.Segment("PV1"); pv1 != nil {
		upd.Encounter = pv1.Component(19, 1)
		upd.AdmissionTime = mp.timeValue(pv1.Field(44))
		upd.PatientClass = temporal.ValueFromHL7(pv1.Field(2))
	}
	return upd, nil
}

func (mp *Mapper) mapCancelAdmit(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	cancelled := mp.eventTime(msg)
	if t, err := ParseTimestamp(pv1.Field(44), mp.Location); err == nil {
		cancelled = t
	}
	return ingest.CancelAdmit{
		Identifiers:            identifiersFromPID(msg.Segment("PID")),
		SourceSystem:           msg.SendingApp,
		Encounter:              pv1.Component(19, 1),
		CancelledAdmissionTime: cancelled,
		EventTime:              mp.recordedTime(msg),
	}, nil
}

func (mp *Mapper) mapCancelTransfer(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	return ingest.CancelTransfer{
		Identifiers:        identifiersFromPID(msg.Segment("PID")),
		SourceSystem:       msg.SendingApp,
		Encounter:          pv1.Component(19, 1),
		CancelledLocation:  pv1.Field(3),
		CancelledEventTime: mp.eventTime(msg),
		EventTime:          mp.recordedTime(msg),
	}, nil
}

func (mp *Mapper) mapCancelDischarge(msg *Message) (ingest.Message, error) {
	pv1 := msg.Segment("PV1")
	if pv1 == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	return ingest.CancelDischarge{
		Identifiers:  identifiersFromPID(msg.Segment("PID")),
		SourceSystem: msg.SendingApp,
		Encounter:    pv1.Component(19, 1),
		EventTime:    mp.recordedTime(msg),
	}, nil
}

func (mp *Mapper) mapSwapLocations(msg *Message) (ingest.Message, error) {
	pv1s := msg.AllSegments("PV1")
	if len(pv1s) < 2 {
		return nil, fault.ErrRequiredDataMissing
	}
	return ingest.SwapLocations{
		SourceSystem: msg.SendingApp,
		EncounterA:   pv1s[0].Component(19, 1),
		EncounterB:   pv1s[1].Component(19, 1),
		EventTime:    mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapMergeIdentity(msg *Message) (ingest.Message, error) {
	mrg := msg.Segment("MRG")
	if mrg == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	retiring := identifiersFromCX(mrg.RepeatsOf(1))
	surviving := identifiersFromPID(msg.Segment("PID"))
	return ingest.MergeIdentity{
		SourceSystem: msg.SendingApp,
		RetiringMrn:  retiring.Mrn,
		RetiringNhs:  retiring.NhsNumber,
		SurvivingMrn: surviving.Mrn,
		SurvivingNhs: surviving.NhsNumber,
		EventTime:    mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapChangeIdentifiers(msg *Message) (ingest.Message, error) {
	mrg := msg.Segment("MRG")
	pid := msg.Segment("PID")
	if mrg == nil || pid == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	previous := identifiersFromCX(mrg.RepeatsOf(1))
	current := identifiersFromPID(pid)
	if previous.Mrn == nil || current.Mrn == nil {
		return nil, fault.ErrRequiredDataMissing
	}
	return ingest.ChangeIdentifiers{
		SourceSystem: msg.SendingApp,
		PreviousMrn:  *previous.Mrn,
		NewMrn:       *current.Mrn,
		NewNhs:       current.NhsNumber,
		EventTime:    mp.eventTime(msg),
	}, nil
}

func (mp *Mapper) mapDeletePersonInformation(msg *Message) (ingest.Message, error) {
	return ingest.DeletePersonInformation{
		Identifiers:  identifiersFromPID(msg.Segment("PID")),
		SourceSystem: msg.SendingApp,
		EventTime:    mp.eventTime(msg),
	}, nil
}

// eventTime is when the event happened: EVN-6 when present, otherwise the
// recorded time.
func (mp *Mapper) eventTime(msg *Message) time.Time {
	if evn := msg.Segment("EVN"); evn != nil {
		if t, err := ParseTimestamp(evn.Field(6), mp.Location); err == nil {
			return t
		}
	}
	return mp.recordedTime(msg)
}

// recordedTime is when the sender recorded the event: EVN-2, falling back to
// the MSH-7 header timestamp. Cancellations use this rather than EVN-6, where
// the sender echoes the time of the event being cancelled.
func (mp *Mapper) recordedTime(msg *Message) time.Time {
	if evn := msg.Segment("EVN"); evn != nil {
		if t, err := ParseTimestamp(evn.Field(2), mp.Location); err == nil {
			return t
		}
	}
	return msg.Timestamp
}

func (mp *Mapper) timeValue(s string) temporal.Value[time.Time] {
	switch s {
	case "":
		return temporal.Unknown[time.Time]()
	case `""`:
		return temporal.Deleted[time.Time]()
	}
	t, err := ParseTimestamp(s, mp.Location)
	if err != nil {
		return temporal.Unknown[time.Time]()
	}
	return temporal.From(t)
}

func (mp *Mapper) demographicsFromPID(pid *Segment) person.Demographics {
	demo := person.Demographics{
		FamilyName:    temporal.ValueFromHL7(pid.Component(5, 1)),
		GivenName:     temporal.ValueFromHL7(pid.Component(5, 2)),
		MiddleName:    temporal.ValueFromHL7(pid.Component(5, 3)),
		Sex:           temporal.ValueFromHL7(pid.Field(8)),
		HomePostcode:  temporal.ValueFromHL7(pid.Component(11, 5)),
		BirthDatetime: mp.timeValue(pid.Field(7)),
		DeathDatetime: mp.timeValue(pid.Field(29)),
	}
	switch pid.Field(30) {
	case "Y":
		demo.Alive = temporal.From(false)
	case "N":
		demo.Alive = temporal.From(true)
	}
	return demo
}

// identifiersFromPID pulls the MRN and NHS number out of the PID-3
// repetitions, keyed on the CX identifier type code.
func identifiersFromPID(pid *Segment) ingest.Identifiers {
	if pid == nil {
		return ingest.Identifiers{}
	}
	return identifiersFromCX(pid.RepeatsOf(3))
}

func identifiersFromCX(repeats [][]string) ingest.Identifiers {
	var ids ingest.Identifiers
	for _, cx := range repeats {
		if len(cx) == 0 || cx[0] == "" {
			continue
		}
		id := cx[0]
		typeCode := ""
		if len(cx) >= 5 {
			typeCode = cx[4]
		}
		switch typeCode {
		case "NHSNBR", "NHSNMBR", "NHS":
			if ids.NhsNumber == nil {
				ids.NhsNumber = &id
			}
		default:
			if ids.Mrn == nil {
				ids.Mrn = &id
			}
		}
	}
	return ids
}

// isPoolLocation reports whether the assigned location is a holding pool
// rather than a real bed.
func isPoolLocation(location string) bool {
	return strings.HasPrefix(location, "POOL^")
}
