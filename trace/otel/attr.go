package otel

import "go.opentelemetry.io/otel/attribute"

func episodeIDAttr(id string) attribute.KeyValue {
	return attribute.String("tribunal.episode.id", id)
}

func episodeStateAttr(state string) attribute.KeyValue {
	return attribute.String("tribunal.episode.state", state)
}

func goalIDAttr(id string) attribute.KeyValue {
	return attribute.String("tribunal.goal.id", id)
}

func goalTypeAttr(t string) attribute.KeyValue {
	return attribute.String("tribunal.goal.type", t)
}

func planStepsAttr(n int) attribute.KeyValue {
	return attribute.Int("tribunal.plan.steps", n)
}

func replanAttr(n int) attribute.KeyValue {
	return attribute.Int("tribunal.plan.replan", n)
}

func stepIDAttr(id string) attribute.KeyValue {
	return attribute.String("tribunal.step.id", id)
}

func stepAttemptAttr(n int) attribute.KeyValue {
	return attribute.Int("tribunal.step.attempt", n)
}

func toolNameAttr(name string) attribute.KeyValue {
	return attribute.String("tool.name", name)
}

func toolArgsAttr(args string) attribute.KeyValue {
	return attribute.String("tool.args", args)
}

func judgmentActionAttr(action string) attribute.KeyValue {
	return attribute.String("tribunal.judgment.action", action)
}

func judgmentConfidenceAttr(c float64) attribute.KeyValue {
	return attribute.Float64("tribunal.judgment.confidence", c)
}

func judgmentSourceAttr(source string) attribute.KeyValue {
	return attribute.String("tribunal.judgment.source", source)
}

func decisionSeqAttr(seq uint64) attribute.KeyValue {
	return attribute.Int64("tribunal.decision.seq", int64(seq)) // #nosec G115
}

func escalationIDAttr(id string) attribute.KeyValue {
	return attribute.String("tribunal.escalation.id", id)
}

func escalationStatusAttr(status string) attribute.KeyValue {
	return attribute.String("tribunal.escalation.status", status)
}

func eventDataAttr(data string) attribute.KeyValue {
	return attribute.String("event.data", data)
}
