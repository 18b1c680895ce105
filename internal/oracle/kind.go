package oracle

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tensorplex-labs/blackbox/internal/normalization"
)

// ModelKind is the closed set of model families a bundle can hold.
type ModelKind int

const (
	KindUnknown ModelKind = iota
	KindStarNet
	KindCNN
	KindVAE
	KindBCNN
)

// kindTags maps the identifier written next to a saved model to its kind.
var kindTags = map[string]ModelKind{
	"StarNet": KindStarNet,
	"CNN":     KindCNN,
	"CVAE":    KindVAE,
	"BCNN-MC": KindBCNN,
}

// ParseKind resolves an on-disk identifier tag.
func ParseKind(tag string) (ModelKind, error) {
	kind, ok := kindTags[strings.TrimSpace(tag)]
	if !ok {
		return KindUnknown, &normalization.ConfigMismatchError{
			Field: "model identifier",
			Want:  strings.Join(KnownTags(), "|"),
			Got:   tag,
		}
	}
	return kind, nil
}

// KnownTags lists the accepted identifier tags, sorted.
func KnownTags() []string {
	tags := make([]string, 0, len(kindTags))
	for tag := range kindTags {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

func (k ModelKind) Tag() string {
	for tag, kind := range kindTags {
		if kind == k {
			return tag
		}
	}
	return "unknown"
}

func (k ModelKind) String() string {
	switch k {
	case KindStarNet:
		return "StarNet"
	case KindCNN:
		return "CNN"
	case KindVAE:
		return "VAE"
	case KindBCNN:
		return "BCNN"
	}
	return fmt.Sprintf("ModelKind(%d)", int(k))
}

// Probabilistic reports whether the family emits an uncertainty next to its mean.
func (k ModelKind) Probabilistic() bool {
	return k == KindBCNN
}

// Factory builds an oracle for a loaded bundle.
type Factory func(b *Bundle) (Oracle, error)

// Registry maps each model kind to the factory that can serve it.
type Registry map[ModelKind]Factory

// NewRegistry returns a registry using factory for every known kind.
func NewRegistry(factory Factory) Registry {
	r := make(Registry, len(kindTags))
	for _, kind := range kindTags {
		r[kind] = factory
	}
	return r
}

func (r Registry) Register(kind ModelKind, factory Factory) {
	r[kind] = factory
}

// Load builds the oracle for b.
func (r Registry) Load(b *Bundle) (Oracle, error) {
	factory, ok := r[b.Kind]
	if !ok {
		return nil, &normalization.ConfigMismatchError{
			Field: "model kind",
			Want:  "registered kind",
			Got:   b.Kind.String(),
		}
	}
	o, err := factory(b)
	if err != nil {
		return nil, fmt.Errorf("build %s oracle: %w", b.Kind, err)
	}
	return o, nil
}
