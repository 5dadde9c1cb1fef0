package processor

import "encore.app/pkg/portable"

const tagFilterTrigger portable.TypeTag = "processor.FilterTrigger"

func init() {
	portable.Register(tagFilterTrigger, func() portable.PortableObject { return &FilterTrigger{} })
}

// WriteExternal encodes the trigger action at its reserved index
// (spec.md §6). The sub-filter is written only when it is itself a
// PortableObject; a trigger built from a locally-constructed
// FilterEvaluator that never crosses the wire writes an empty filter
// slot, which is the common case for client-only triggers.
func (t *FilterTrigger) WriteExternal(w portable.PofWriter) error {
	if sub, ok := t.Filter.(portable.PortableObject); ok {
		encoded, err := portable.Encode(sub)
		if err != nil {
			return err
		}
		if err := w.WriteProperty(portable.IndexFilterTriggerFilter, encoded); err != nil {
			return err
		}
	}
	return w.WriteProperty(portable.IndexFilterTriggerAction, int(t.Action))
}

func (t *FilterTrigger) ReadExternal(r portable.PofReader) error {
	action, _, err := r.ReadProperty(portable.IndexFilterTriggerAction)
	if err != nil {
		return err
	}
	if n, ok := toInt(action); ok {
		t.Action = TriggerAction(n)
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
