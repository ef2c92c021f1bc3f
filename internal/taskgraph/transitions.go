package taskgraph

// validTransitions lists, for each status, the statuses it may legally
// move to. Unlisted moves fail with txerrors.IllegalTransition.
var validTransitions = map[Status][]Status{
	StatusBacklog:            {StatusReady, StatusPlanning, StatusActive, StatusBlocked, StatusDone},
	StatusReady:              {StatusPlanning, StatusActive, StatusBlocked, StatusDone, StatusBacklog},
	StatusPlanning:           {StatusActive, StatusBlocked, StatusReview, StatusDone, StatusBacklog},
	StatusActive:             {StatusBlocked, StatusReview, StatusHumanNeedsToReview, StatusDone, StatusBacklog},
	StatusBlocked:            {StatusReady, StatusActive, StatusDone, StatusBacklog},
	StatusReview:             {StatusActive, StatusHumanNeedsToReview, StatusDone, StatusBacklog},
	StatusHumanNeedsToReview: {StatusActive, StatusDone, StatusBacklog},
	StatusDone:               {StatusActive},
}

func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
