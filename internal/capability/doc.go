// Package capability provides the Capability Registry for connectd.
//
// The registry is the static knowledge base that decides, before any network
// traffic, whether a device model can perform a logical action, and which
// opaque controller identifier that action maps to on that model.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                     Capability Registry                       │
//	│                                                               │
//	│  models.yaml ──▶ schema check ──▶ NewRegistry ──▶ Registry    │
//	│  (embedded or      (models.       (cross-field     (immutable │
//	│   operator file)    schema.json)   validation)      lookups)  │
//	│                                                               │
//	│  CanonicalActions: action ─▶ capability, wire name, payload   │
//	└──────────────────────────────────────────────────────────────┘
//
// Per-model data (capability set, action identifiers) lives in the models
// file. Behaviour common to all models (which capability gates an action,
// its wire name and payload shape) lives in CanonicalActions. Adding a model
// is a data change.
//
// # Usage
//
//	reg, err := capability.LoadDefault()
//	if err != nil {
//	    return err
//	}
//	id, err := reg.ActionIdentifierFor("UC-Display-7", capability.ActionSetVolume)
//	if errors.Is(err, capability.ErrUnsupportedAction) {
//	    // reject the command
//	}
//
// # Thread Safety
//
// A Registry never changes after construction; all methods are safe for
// concurrent use.
package capability
