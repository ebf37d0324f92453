package models

// Stage is one position in the ordered document-processing lifecycle.
// Ordering is defined by StageIndex, not by declaration order. A stage names
// the milestone a record has reached; the pipeline transition keyed on a
// stage performs the next unit of work and returns the stage that follows.
type Stage string

const (
	StageUnprocessed Stage = "unprocessed"
	// StageStarted means processing has begun but no text has been
	// extracted yet.
	StageStarted Stage = "started"
	// StageExtracted means OriginalText is populated and the record awaits
	// translation. English documents never visit this stage.
	StageExtracted Stage = "extracted"
	// StageTranslated means EnglishText is populated and the record awaits
	// search/embedding indexing.
	StageTranslated Stage = "translated"

	// Later lifecycle positions owned by collaborating subsystems. They share
	// the ordering so "process until stage N" composes across the whole
	// lifecycle, but the pipeline holds no transitions for them.
	StageEmbeddingsCompleted    Stage = "embeddings_completed"
	StageSummarizationCompleted Stage = "summarization_completed"
	StageOrganizationAssigned   Stage = "organization_assigned"
	StageEncountersAnalyzed     Stage = "encounters_analyzed"

	// StageCompleted is the terminal sentinel, ordered after every other stage.
	StageCompleted Stage = "completed"
)

// stageCompletedIndex sorts after every real stage.
const stageCompletedIndex = 1 << 30

var stageOrder = map[Stage]int{
	StageUnprocessed:            0,
	StageStarted:                1,
	StageExtracted:              2,
	StageTranslated:             3,
	StageEmbeddingsCompleted:    4,
	StageSummarizationCompleted: 5,
	StageOrganizationAssigned:   6,
	StageEncountersAnalyzed:     7,
	StageCompleted:              stageCompletedIndex,
}

// StageIndex returns the position of s in the lifecycle ordering.
// Unknown stages sort before unprocessed so a corrupt record is always
// eligible for reprocessing rather than silently treated as done.
func StageIndex(s Stage) int {
	if idx, ok := stageOrder[s]; ok {
		return idx
	}
	return -1
}

// ValidStage reports whether s is a member of the closed stage enumeration.
func ValidStage(s Stage) bool {
	_, ok := stageOrder[s]
	return ok
}

// AllStages returns every stage in lifecycle order.
func AllStages() []Stage {
	return []Stage{
		StageUnprocessed,
		StageStarted,
		StageExtracted,
		StageTranslated,
		StageEmbeddingsCompleted,
		StageSummarizationCompleted,
		StageOrganizationAssigned,
		StageEncountersAnalyzed,
		StageCompleted,
	}
}

// ParseStage converts a wire string to a Stage, reporting whether it is valid.
func ParseStage(s string) (Stage, bool) {
	st := Stage(s)
	return st, ValidStage(st)
}

// EligibleForProcessing implements the regeneration range selection: a record
// at stage s is eligible when it has not yet reached stopAt, or when work is
// being forced from regenerateFrom onward and the record is past that point.
func EligibleForProcessing(s, stopAt, regenerateFrom Stage) bool {
	if StageIndex(s) < StageIndex(stopAt) {
		return true
	}
	return StageIndex(stopAt) > StageIndex(regenerateFrom) && StageIndex(s) > StageIndex(regenerateFrom)
}
