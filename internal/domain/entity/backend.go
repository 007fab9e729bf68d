package entity

import "errors"

// BackendKind classifies how a Backend is dispatched. CLI backends are
// tool-capable local subprocesses routed through a Pool; API backends are
// remote HTTP providers dispatched directly.
type BackendKind string

const (
	BackendCLI BackendKind = "cli"
	BackendAPI BackendKind = "api"
)

// ErrInvalidBackendName is returned when a Backend is constructed with an
// empty name.
var ErrInvalidBackendName = errors.New("invalid backend name")

// ErrCLIRequiresTools is returned when a CLI-kind backend is declared
// without tool support — the invariant in requires kind=CLI to
// imply supports_tools=true.
var ErrCLIRequiresTools = errors.New("cli backend must support tools")

// Backend is a handle describing one routable destination: a locally
// spawned tool-capable CLI process or a remote HTTP API.
type Backend struct {
	Name                string
	Kind                BackendKind
	SupportsTools       bool
	EstimatedCostPerReq float64
	ProviderFamily      string
	Config              map[string]string
}

// NewBackend validates and constructs a Backend: kind=CLI implies
// supports_tools=true, and the name must be non-empty.
func NewBackend(name string, kind BackendKind, supportsTools bool, costPerReq float64, providerFamily string, cfg map[string]string) (*Backend, error) {
	if name == "" {
		return nil, ErrInvalidBackendName
	}
	if kind == BackendCLI && !supportsTools {
		return nil, ErrCLIRequiresTools
	}
	if cfg == nil {
		cfg = make(map[string]string)
	}
	return &Backend{
		Name:                name,
		Kind:                kind,
		SupportsTools:       supportsTools,
		EstimatedCostPerReq: costPerReq,
		ProviderFamily:      providerFamily,
		Config:              cfg,
	}, nil
}
