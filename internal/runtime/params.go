package runtime

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/jsoncodec"
)

// Validator lets model types reject bad payloads before the callback runs.
// When a callback parameter's type implements it, Validate is called on the
// freshly decoded value and a failure aborts dispatch.
type Validator interface {
	Validate() error
}

type paramKind int

const (
	paramContext paramKind = iota
	paramSubject
	paramMessage
	paramMessagePtr
	paramModel
	paramOmitted
)

type paramSpec struct {
	kind paramKind
	typ  reflect.Type
	ptr  bool
}

// callbackPlan is the compiled invocation strategy for one callback: one
// extractor per parameter plus the result shape. Built once per
// subscription, executed per message.
type callbackPlan struct {
	fn        reflect.Value
	params    []paramSpec
	hasResult bool
	hasErr    bool
}

var (
	ctxType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType     = reflect.TypeOf((*error)(nil)).Elem()
	subjectType = reflect.TypeOf(Subject(""))
	messageType = reflect.TypeOf(Message{})
)

// newCallbackPlan inspects cb's signature. Result shapes other than (),
// (error), (T) and (T, error) fail here; parameters that cannot be
// resolved from a message are deferred to invocation time so that the
// failure surfaces per message, not at registration.
func newCallbackPlan(cb any) (*callbackPlan, error) {
	if cb == nil {
		return nil, errspkg.ErrCallbackRequired
	}

	v := reflect.ValueOf(cb)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("busflow: callback must be a function, got %T", cb)
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("busflow: variadic callbacks are not supported")
	}

	plan := &callbackPlan{fn: v}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errType {
			plan.hasErr = true
		} else {
			plan.hasResult = true
		}
	case 2:
		if t.Out(1) != errType {
			return nil, fmt.Errorf("busflow: callback's second result must be error, got %s", t.Out(1))
		}
		plan.hasResult = true
		plan.hasErr = true
	default:
		return nil, fmt.Errorf("busflow: callback returns %d values, want at most 2", t.NumOut())
	}

	for i := 0; i < t.NumIn(); i++ {
		plan.params = append(plan.params, classifyParam(t.In(i)))
	}
	return plan, nil
}

func classifyParam(t reflect.Type) paramSpec {
	switch t {
	case ctxType:
		return paramSpec{kind: paramContext}
	case subjectType:
		return paramSpec{kind: paramSubject}
	case messageType:
		return paramSpec{kind: paramMessage}
	case reflect.PointerTo(messageType):
		return paramSpec{kind: paramMessagePtr}
	}

	switch t.Kind() {
	case reflect.Struct:
		return paramSpec{kind: paramModel, typ: t}
	case reflect.Ptr:
		if t.Elem().Kind() == reflect.Struct {
			return paramSpec{kind: paramModel, typ: t.Elem(), ptr: true}
		}
	}
	return paramSpec{kind: paramOmitted, typ: t}
}

// invoke runs the callback against one decoded message. The returned value
// is the callback's first result, nil for the () and (error) shapes.
func (p *callbackPlan) invoke(ctx context.Context, msg *Message) (any, error) {
	args := make([]reflect.Value, len(p.params))
	for i, spec := range p.params {
		v, err := resolveParam(ctx, spec, msg)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	out := p.fn.Call(args)

	if p.hasErr {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if p.hasResult {
		return resultValue(out[0]), nil
	}
	return nil, nil
}

// resultValue unwraps a callback result. A nil pointer, map, slice, or
// other nilable result means the handler had nothing to say; it must come
// back as a plain nil so the reply path encodes {} instead of null.
func resultValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

func resolveParam(ctx context.Context, spec paramSpec, msg *Message) (reflect.Value, error) {
	switch spec.kind {
	case paramContext:
		return reflect.ValueOf(ctx), nil
	case paramSubject:
		return reflect.ValueOf(msg.Subject), nil
	case paramMessage:
		return reflect.ValueOf(*msg), nil
	case paramMessagePtr:
		return reflect.ValueOf(msg), nil
	case paramModel:
		return resolveModel(spec, msg)
	default:
		return reflect.Value{}, fmt.Errorf("busflow: callback parameter of type %s cannot be resolved from a message", spec.typ)
	}
}

func resolveModel(spec paramSpec, msg *Message) (reflect.Value, error) {
	target := reflect.New(spec.typ)

	data := msg.Data
	if data == nil {
		data = map[string]any{}
	}
	if err := jsoncodec.Roundtrip(data, target.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("busflow: decoding %s from message data: %w", spec.typ, err)
	}

	if v, ok := target.Interface().(Validator); ok {
		if err := v.Validate(); err != nil {
			return reflect.Value{}, fmt.Errorf("busflow: validating %s: %w", spec.typ, err)
		}
	}

	if spec.ptr {
		return target, nil
	}
	return target.Elem(), nil
}
