package submissionid

// ProblemKind is the discriminator older problem ids carried in their top bit.
type ProblemKind uint8

const (
	IndividualProblem ProblemKind = iota
	ContestProblem
)

const problemTagBit = 31

func (k ProblemKind) String() string {
	if k == ContestProblem {
		return "contest"
	}
	return "individual"
}

// TagProblemID sets the top bit of id for contest problems.
func TagProblemID(kind ProblemKind, id uint32) uint32 {
	if kind == ContestProblem {
		return id | 1<<problemTagBit
	}
	return id
}

// UntagProblemID clears the kind bit.
func UntagProblemID(tagged uint32) uint32 {
	return tagged &^ (1 << problemTagBit)
}

// KindOf reports the kind recorded in a tagged problem id.
func KindOf(tagged uint32) ProblemKind {
	if IsContestProblem(tagged) {
		return ContestProblem
	}
	return IndividualProblem
}

func IsContestProblem(tagged uint32) bool {
	return tagged>>problemTagBit&1 == 1
}

func IsIndividualProblem(tagged uint32) bool {
	return !IsContestProblem(tagged)
}
