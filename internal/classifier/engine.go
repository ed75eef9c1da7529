package classifier

import (
	"fmt"

	"recoverflow/internal/model"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

// Input is what a classifier sees of one processing attempt.
type Input struct {
	MessageType string
	Failure     model.FailureDetails
	Attempt     model.ProcessingAttempt
}

func InputFromAttempt(a model.ProcessingAttempt) Input {
	return Input{
		MessageType: a.MessageMetadata.MessageType,
		Failure:     a.FailureDetails,
		Attempt:     a,
	}
}

// Classifier assigns an attempt to at most one group. It must not have side
// effects.
type Classifier interface {
	Name() string
	Classify(in Input) (title string, ok bool)
}

type funcClassifier struct {
	name string
	fn   func(Input) (string, bool)
}

func (f funcClassifier) Name() string                     { return f.name }
func (f funcClassifier) Classify(in Input) (string, bool) { return f.fn(in) }

// Func adapts a plain function into a Classifier.
func Func(name string, fn func(Input) (string, bool)) Classifier {
	return funcClassifier{name: name, fn: fn}
}

type Engine struct {
	classifiers []Classifier
}

func NewEngine(classifiers ...Classifier) *Engine {
	if len(classifiers) == 0 {
		classifiers = Builtin()
	}
	return &Engine{classifiers: classifiers}
}

// Classify runs every classifier in order. A panicking classifier is logged
// and skipped.
func (e *Engine) Classify(in Input) []model.FailureGroup {
	groups := make([]model.FailureGroup, 0, len(e.classifiers))
	for _, c := range e.classifiers {
		title, ok := e.run(c, in)
		if !ok || title == "" {
			continue
		}
		groups = append(groups, model.FailureGroup{
			GroupID:       GroupID(c.Name(), title),
			LegacyGroupID: LegacyGroupID(c.Name(), title),
			Title:         title,
			Type:          c.Name(),
		})
	}
	return groups
}

func (e *Engine) run(c Classifier, in Input) (title string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("classifier panicked",
				zap.String("classifier", c.Name()),
				zap.String("panic", fmt.Sprint(r)),
			)
			title, ok = "", false
		}
	}()
	return c.Classify(in)
}

func (e *Engine) Names() []string {
	names := make([]string, len(e.classifiers))
	for i, c := range e.classifiers {
		names[i] = c.Name()
	}
	return names
}
