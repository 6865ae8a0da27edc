package store

import (
	"strings"

	"qms/internal/models"
)

const (
	ActionCallNext = "call_next"
	ActionRecall   = "recall"
	ActionStart    = "start"
	ActionFinish   = "finish"
	ActionNoShow   = "no_show"
	ActionFeedback = "feedback"
	ActionEmit     = "emit"
)

var transitionMap = map[string][]string{
	ActionCallNext: {models.StatusWaiting},
	ActionRecall:   {models.StatusCalling},
	ActionStart:    {models.StatusCalling},
	ActionFinish:   {models.StatusCalling, models.StatusServing},
	ActionNoShow:   {models.StatusCalling, models.StatusServing},
	ActionFeedback: {models.StatusFinished},
}

var statusRank = map[string]int{
	models.StatusWaiting:  0,
	models.StatusCalling:  1,
	models.StatusServing:  2,
	models.StatusFinished: 3,
	models.StatusNoShow:   3,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// FinishAction returns the transition action that leads to the terminal status.
func FinishAction(status string) (string, bool) {
	switch status {
	case models.StatusFinished:
		return ActionFinish, true
	case models.StatusNoShow:
		return ActionNoShow, true
	}
	return "", false
}

// RequestKey scopes a client request id so the same id sent to another
// queue or counter is a different request.
func RequestKey(requestID string, scope ...string) string {
	return strings.Join(append(scope, requestID), "/")
}

// Regresses reports whether moving from one status to another goes backwards.
// Recall keeps a ticket in calling and is not a regression.
func Regresses(from, to string) bool {
	return statusRank[to] < statusRank[from]
}
