package protocol

import (
	"encoding/json"
	"fmt"
)

// PatchMode describes how the client applies a patch to the target component.
type PatchMode uint8

const (
	// ModeReplace swaps the target's rendered content.
	ModeReplace PatchMode = iota + 1

	// ModeAppend inserts the payload after the target's existing content.
	ModeAppend

	// ModePrepend inserts the payload before the target's existing content.
	ModePrepend

	// ModeAttr patches an attribute on the target's DOM node instead of its
	// content. Used for reactive attributes such as a class toggled by a
	// boolean source.
	ModeAttr

	// ModeRemove deletes the target's rendered content and releases its
	// client-side resources. Carries no payload.
	ModeRemove
)

// String returns the wire name of the patch mode.
func (m PatchMode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeAppend:
		return "append"
	case ModePrepend:
		return "prepend"
	case ModeAttr:
		return "attr"
	case ModeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// parsePatchMode parses a wire mode name.
func parsePatchMode(s string) (PatchMode, error) {
	switch s {
	case "replace":
		return ModeReplace, nil
	case "append":
		return ModeAppend, nil
	case "prepend":
		return ModePrepend, nil
	case "attr":
		return ModeAttr, nil
	case "remove":
		return ModeRemove, nil
	default:
		return 0, fmt.Errorf("protocol: unknown patch mode %q", s)
	}
}

// PayloadKind tags the encoding of a patch payload.
type PayloadKind uint8

const (
	// KindNone means the patch carries no payload (deletions).
	KindNone PayloadKind = iota

	// KindMarkup is rendered textual output applied as markup.
	KindMarkup

	// KindData is a structured value interpreted by a client-side binding.
	KindData
)

// Payload is the explicitly tagged content of a patch. Exactly one of Markup
// or Data is meaningful, selected by Kind.
type Payload struct {
	Kind   PayloadKind
	Markup string
	Data   any
}

// Markup wraps rendered textual output as a patch payload.
func Markup(s string) Payload {
	return Payload{Kind: KindMarkup, Markup: s}
}

// Data wraps a structured value as a patch payload.
func Data(v any) Payload {
	return Payload{Kind: KindData, Data: v}
}

// Patch is a single UI delta targeting one component.
type Patch struct {
	// Target is the component id the patch applies to.
	Target uint64

	// Mode selects the client-side application semantics.
	Mode PatchMode

	// Key is the attribute name for ModeAttr patches.
	Key string

	// Payload is the patch content. Empty (KindNone) for ModeRemove.
	Payload Payload
}

// patchWire is the JSON shape of a patch record.
type patchWire struct {
	Target uint64  `json:"target"`
	Mode   string  `json:"mode"`
	Key    string  `json:"key,omitempty"`
	HTML   *string `json:"html,omitempty"`
	Data   any     `json:"data,omitempty"`
}

// MarshalJSON encodes the patch as a wire record. The payload encoding is
// selected by the tag, never by inspecting the value.
func (p Patch) MarshalJSON() ([]byte, error) {
	w := patchWire{
		Target: p.Target,
		Mode:   p.Mode.String(),
		Key:    p.Key,
	}
	switch p.Payload.Kind {
	case KindMarkup:
		html := p.Payload.Markup
		w.HTML = &html
	case KindData:
		w.Data = p.Payload.Data
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire patch record.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var w patchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	mode, err := parsePatchMode(w.Mode)
	if err != nil {
		return err
	}
	p.Target = w.Target
	p.Mode = mode
	p.Key = w.Key
	switch {
	case w.HTML != nil:
		p.Payload = Markup(*w.HTML)
	case w.Data != nil:
		p.Payload = Data(w.Data)
	default:
		p.Payload = Payload{}
	}
	return nil
}

// EncodePatches encodes a batch of patches as one outbound frame.
func EncodePatches(patches []Patch) ([]byte, error) {
	return json.Marshal(patches)
}

// DecodePatches decodes an outbound frame back into a batch of patches.
func DecodePatches(data []byte) ([]Patch, error) {
	var patches []Patch
	if err := json.Unmarshal(data, &patches); err != nil {
		return nil, err
	}
	return patches, nil
}

// NewReplacePatch creates a replace patch.
func NewReplacePatch(target uint64, payload Payload) Patch {
	return Patch{Target: target, Mode: ModeReplace, Payload: payload}
}

// NewAppendPatch creates an append patch.
func NewAppendPatch(target uint64, payload Payload) Patch {
	return Patch{Target: target, Mode: ModeAppend, Payload: payload}
}

// NewPrependPatch creates a prepend patch.
func NewPrependPatch(target uint64, payload Payload) Patch {
	return Patch{Target: target, Mode: ModePrepend, Payload: payload}
}

// NewAttrPatch creates an attribute patch.
func NewAttrPatch(target uint64, key string, payload Payload) Patch {
	return Patch{Target: target, Mode: ModeAttr, Key: key, Payload: payload}
}

// NewRemovePatch creates a deletion patch. It carries only the target id.
func NewRemovePatch(target uint64) Patch {
	return Patch{Target: target, Mode: ModeRemove}
}
