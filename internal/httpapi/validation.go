package httpapi

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"callcenter/internal/calls"
)

type rule struct {
	tag string
	fn  validator.Func
}

// domainRules are the tags request structs use beyond validator's built-ins:
//   - disposition: one of calls.Dispositions
//   - engagement: preview_sent, preview_opened or cta_clicked
var domainRules = []rule{
	{tag: "disposition", fn: func(fl validator.FieldLevel) bool {
		return calls.Disposition(fl.Field().String()).Valid()
	}},
	{tag: "engagement", fn: func(fl validator.FieldLevel) bool {
		switch calls.EngagementKind(fl.Field().String()) {
		case calls.EngagementPreviewSent, calls.EngagementPreviewOpened, calls.EngagementCTAClicked:
			return true
		default:
			return false
		}
	}},
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators adds domainRules to gin's binding validator. Without them every request
// using the tags would fail validation, so callers treat an error as fatal.
func RegisterValidators() error {
	registerOnce.Do(func() {
		registerErr = registerRules(binding.Validator.Engine(), domainRules)
	})
	return registerErr
}

func registerRules(engine any, rules []rule) error {
	v, ok := engine.(*validator.Validate)
	if !ok {
		return fmt.Errorf("binding validator engine is %T, want *validator.Validate", engine)
	}
	for _, r := range rules {
		if err := v.RegisterValidation(r.tag, r.fn); err != nil {
			return fmt.Errorf("register %q validation: %w", r.tag, err)
		}
	}
	return nil
}
