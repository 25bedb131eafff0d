package rpc

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/manifest"
)

// validate is shared by every bind; building a validator is expensive.
var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Bind decodes JSON-RPC params into dst and validates its struct tags.
//
// params may be positional (an array, matched against names in order) or
// named (an object keyed by the json tags of dst). A bare scalar counts as a
// one-element array. Missing or null params decode as an empty object.
func Bind(params json.RawMessage, names []string, dst interface{}) error {
	obj, err := namedParams(params, names)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(obj, dst); err != nil {
		return errors.InvalidInput("Invalid params: "+err.Error(), errors.WithCause(err))
	}
	return validateParams(dst)
}

// BindSingle decodes params that carry exactly one argument: either [arg] or
// arg itself.
func BindSingle(params json.RawMessage, dst interface{}) error {
	raw := bytes.TrimSpace(params)
	if len(raw) > 0 && raw[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return errors.InvalidInput("Invalid params: "+err.Error(), errors.WithCause(err))
		}
		if len(elems) != 1 {
			return errors.InvalidInput(fmt.Sprintf("Invalid params: expected 1 argument, got %d", len(elems)))
		}
		raw = elems[0]
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.InvalidInput("Invalid params: "+err.Error(), errors.WithCause(err))
	}
	return validateParams(dst)
}

func namedParams(params json.RawMessage, names []string) (json.RawMessage, error) {
	raw := bytes.TrimSpace(params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), nil
	}

	switch raw[0] {
	case '{':
		return raw, nil
	case '[':
	default:
		raw = append(append([]byte("["), raw...), ']')
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, errors.InvalidInput("Invalid params: "+err.Error(), errors.WithCause(err))
	}
	if len(elems) > len(names) {
		return nil, errors.InvalidInput(fmt.Sprintf("Invalid params: expected at most %d arguments, got %d", len(names), len(elems)))
	}
	obj := make(map[string]json.RawMessage, len(elems))
	for i, elem := range elems {
		obj[names[i]] = elem
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "encode params")
	}
	return out, nil
}

func validateParams(dst interface{}) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if stderrors.As(err, &invalid) {
		// Not a struct; nothing to validate.
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.InvalidInput("Invalid params: "+err.Error(), errors.WithCause(err))
	}
	fe := verrs[0]
	field := paramName(fe.Namespace())
	return errors.InvalidInput(
		fmt.Sprintf("Invalid params: %s failed %q", field, fe.Tag()),
		errors.WithMetadata(errors.MetaField, field),
		errors.WithCause(err))
}

// paramName turns a validator namespace ("manifestParams.fields[0].field")
// into the dotted path after the root struct.
func paramName(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

type clientParams struct {
	ID string `json:"id" validate:"required"`
}

type updateParams struct {
	ID        string                 `json:"id" validate:"required"`
	Updates   map[string]interface{} `json:"updates" validate:"required"`
	ServiceID string                 `json:"serviceId"`
}

type readinessParams struct {
	ClientID  string `json:"clientId" validate:"required"`
	ServiceID string `json:"serviceId"`
}

type manifestParams struct {
	ServiceID string               `json:"serviceId" validate:"required"`
	Fields    []manifest.FieldSpec `json:"fields" validate:"dive"`
}

type serviceParams struct {
	ServiceID string `json:"serviceId" validate:"required"`
}

type enqueueParams struct {
	ServiceID string `json:"serviceId" validate:"required"`
	ClientID  string `json:"clientId" validate:"required"`
	Body      string `json:"body"`
	ID        string `json:"id" validate:"required"`
}

type ackParams struct {
	ServiceID string `json:"serviceId" validate:"required"`
	ClientID  string `json:"clientId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
}

// MailboxParams names one mailbox.
type MailboxParams struct {
	ServiceID string `json:"serviceId" validate:"required"`
	ClientID  string `json:"clientId" validate:"required"`
}

// MailboxParamNames is the positional order of MailboxParams.
var MailboxParamNames = []string{"serviceId", "clientId"}

type sendParams struct {
	ClientID  string `json:"clientId" validate:"required"`
	Message   string `json:"message"`
	ServiceID string `json:"serviceId"`
}
