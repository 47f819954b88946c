package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidAction = errors.New("invalid action")
	ErrForbidden     = errors.New("forbidden")
)

// Action is the single operation a /new-book-check call performs on the loop.
// The zero value runs an ad-hoc lookback.
type Action string

const (
	ActionNone      Action = ""
	ActionEnable    Action = "enable"
	ActionDisable   Action = "disable"
	ActionConfigure Action = "configure"
)

var validate = validator.New()

// newBookCheckRequest is the validated form of /new-book-check options.
type newBookCheckRequest struct {
	Minutes int    `validate:"gte=1,lte=525600"`
	Color   string `validate:"omitempty,oneof=0 1 2 3 4 5 6 Default Yellow Orange Purple Turquoise Red Green"`
	Action  Action `validate:"omitempty,oneof=enable disable configure"`
}

// parseAction folds the action option and the enable_task/disable_task flags
// into one Action. Asking for more than one action is an error.
func parseAction(action string, enable, disable bool) (Action, error) {
	var picked []Action
	if a := Action(strings.ToLower(strings.TrimSpace(action))); a != ActionNone {
		picked = append(picked, a)
	}
	if enable {
		picked = append(picked, ActionEnable)
	}
	if disable {
		picked = append(picked, ActionDisable)
	}
	switch {
	case len(picked) == 0:
		return ActionNone, nil
	case len(picked) > 1 && !allSame(picked):
		return ActionNone, fmt.Errorf("%w: only one action may be given", ErrInvalidAction)
	}
	return picked[0], nil
}

func allSame(as []Action) bool {
	for _, a := range as[1:] {
		if a != as[0] {
			return false
		}
	}
	return true
}

func (r newBookCheckRequest) validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Field() == "Action" {
				return fmt.Errorf("%w: %q", ErrInvalidAction, r.Action)
			}
			return fmt.Errorf("%s: failed %q validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}
