package store

import (
	"errors"
	"slices"
	"time"
)

var ErrNotFound = errors.New("not found")

// Phase is the stage tag an activity moves through, PRE then DURING then AFTER.
type Phase string

const (
	PhasePre    Phase = "PRE"
	PhaseDuring Phase = "DURING"
	PhaseAfter  Phase = "AFTER"
)

var phaseOrder = map[Phase]int{PhasePre: 0, PhaseDuring: 1, PhaseAfter: 2}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Next returns the phase following p, or false when p is the last one.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhasePre:
		return PhaseDuring, true
	case PhaseDuring:
		return PhaseAfter, true
	default:
		return p, false
	}
}

// Before reports whether p comes strictly before other.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

type UserStatus string

const (
	UserConnected    UserStatus = "CONNECTED"
	UserDisconnected UserStatus = "DISCONNECTED"
)

type StepKind string

const (
	StepCircleOfWriters          StepKind = "CircleOfWriters"
	StepUnorderedCircleOfWriters StepKind = "UnorderedCircleOfWriters"
	StepReverseSnowball          StepKind = "ReverseSnowball"
	StepSendEmailNotification    StepKind = "SendEmailNotification"
)

type Direction string

const (
	FromBeginToEnd Direction = "FROM_BEGIN_TO_END"
	FromEndToBegin Direction = "FROM_END_TO_BEGIN"
)

// Valid accepts the two rotations and the empty value, which means forward.
func (d Direction) Valid() bool {
	switch d {
	case "", FromBeginToEnd, FromEndToBegin:
		return true
	default:
		return false
	}
}

// Step is one configured collaboration protocol. Kind selects the protocol;
// the remaining fields are only meaningful for the kinds that read them.
type Step struct {
	Kind      StepKind  `json:"kind"`
	Direction Direction `json:"direction,omitempty"`
	Rounds    int       `json:"rounds,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// ConfiguredRounds returns the round count a writing protocol runs for.
func (s Step) ConfiguredRounds() int {
	if s.Rounds <= 0 {
		return 1
	}
	return s.Rounds
}

type Stage struct {
	Phase Phase  `json:"phase"`
	Steps []Step `json:"steps"`
}

// Incomplete reports whether the stage has no step to run.
func (s Stage) Incomplete() bool {
	return len(s.Steps) == 0
}

type Workflow struct {
	ID          string
	Name        string
	Description string
	Stages      []Stage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stage returns the stage configured for phase, if any.
func (w Workflow) Stage(phase Phase) (Stage, bool) {
	for _, stage := range w.Stages {
		if stage.Phase == phase {
			return stage, true
		}
	}
	return Stage{}, false
}

// Usable reports whether the workflow has a DURING stage with at least one step.
func (w Workflow) Usable() bool {
	stage, ok := w.Stage(PhaseDuring)
	return ok && !stage.Incomplete()
}

type Activity struct {
	ID             string
	CreatorID      string
	WorkflowID     string
	ActualStage    Phase
	ParticipantIDs []string
	GroupIDs       []string
	CreatedAt      time.Time
}

func (a Activity) HasParticipant(userID string) bool {
	return slices.Contains(a.ParticipantIDs, userID)
}

// User holds back-references only; group and activity membership is owned by
// GroupActivity.ParticipantIDs and Activity.ParticipantIDs.
type User struct {
	ID         string
	Status     UserStatus
	ActivityID string
	GroupID    string
}

type GroupActivity struct {
	ID               string
	ActivityID       string
	ParticipantIDs   []string
	AlreadyPlayedIDs []string
	Capacity         int
	DocumentIDs      []string
	CreatedAt        time.Time
}

func (g GroupActivity) HasParticipant(userID string) bool {
	return slices.Contains(g.ParticipantIDs, userID)
}

func (g GroupActivity) HasDocument(documentID string) bool {
	return slices.Contains(g.DocumentIDs, documentID)
}

// CurrentDocumentID is the most recently associated document of the group.
func (g GroupActivity) CurrentDocumentID() string {
	if len(g.DocumentIDs) == 0 {
		return ""
	}
	return g.DocumentIDs[len(g.DocumentIDs)-1]
}

// Document tracks the turn state of a shared artifact. ParticipantsAssigned
// holds the users still owing an action this round, Edited the ones who
// already acted, in the order they acted.
type Document struct {
	ID                   string
	GroupID              string
	Rounds               int
	ParticipantsAssigned []string
	Edited               []string
	Content              string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (d Document) IsPending(userID string) bool {
	return slices.Contains(d.ParticipantsAssigned, userID)
}

// CommitInfo describes one revision of a document's content history.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// Clone returns a copy that shares no slices with d.
func (d Document) Clone() Document {
	d.ParticipantsAssigned = slices.Clone(d.ParticipantsAssigned)
	d.Edited = slices.Clone(d.Edited)
	return d
}

func (g GroupActivity) Clone() GroupActivity {
	g.ParticipantIDs = slices.Clone(g.ParticipantIDs)
	g.AlreadyPlayedIDs = slices.Clone(g.AlreadyPlayedIDs)
	g.DocumentIDs = slices.Clone(g.DocumentIDs)
	return g
}

func (a Activity) Clone() Activity {
	a.ParticipantIDs = slices.Clone(a.ParticipantIDs)
	a.GroupIDs = slices.Clone(a.GroupIDs)
	return a
}

func (w Workflow) Clone() Workflow {
	stages := make([]Stage, len(w.Stages))
	for i, stage := range w.Stages {
		stages[i] = Stage{Phase: stage.Phase, Steps: slices.Clone(stage.Steps)}
	}
	w.Stages = stages
	return w
}
