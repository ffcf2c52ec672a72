// Package registry resolves app capabilities by (app, capability) name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrAppNotFound        = errors.New("app not registered")
	ErrCapabilityNotFound = errors.New("capability not registered")
	ErrWrongKind          = errors.New("capability has the wrong kind")
	ErrInvalidArguments   = errors.New("invalid arguments")
	ErrDuplicate          = errors.New("capability already registered")
)

// Kind tells the engine how a capability may be used.
type Kind string

const (
	KindAction    Kind = "action"
	KindCondition Kind = "condition"
	KindTransform Kind = "transform"
)

// Request carries one action invocation.
type Request struct {
	ExecutionID string
	ActionID    string
	Arguments   map[string]any
	// Instance is the app instance state for the action's device, nil on first use.
	Instance any
	// Emit publishes a partial result. Only set for streaming capabilities.
	Emit func(partial any) error
}

type Output struct {
	Result any
	// Instance replaces the app instance state when non-nil.
	Instance any
}

type ActionFunc func(ctx context.Context, req *Request) (*Output, error)

type ConditionFunc func(ctx context.Context, value any, args map[string]any) (bool, error)

type TransformFunc func(ctx context.Context, value any, args map[string]any) (any, error)

// Capability is one named operation of an app.
type Capability struct {
	Name string
	Kind Kind
	// Schema is a JSON schema for the arguments object. Nil accepts anything.
	Schema    map[string]any
	Streaming bool
	Action    ActionFunc
	Condition ConditionFunc
	Transform TransformFunc

	app    string
	schema *gojsonschema.Schema
}

func (c *Capability) App() string {
	return c.app
}

// ValidateArguments checks args against the declared schema.
func (c *Capability) ValidateArguments(args map[string]any) error {
	if c.schema == nil {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}

	result, err := c.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("failed to validate arguments of %s.%s: %w", c.app, c.Name, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return &CapabilityError{App: c.app, Name: c.Name, Err: ErrInvalidArguments, Message: strings.Join(problems, "; ")}
	}

	return nil
}

// App groups capabilities under one name. Plugins export a variable named App.
type App interface {
	Name() string
	Capabilities() []*Capability
}

type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	apps   map[string]map[string]*Capability
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log,
		apps:   make(map[string]map[string]*Capability),
	}
}

// Register adds every capability of app, compiling argument schemas up front.
func (r *Registry) Register(app App) error {
	for _, capability := range app.Capabilities() {
		err := r.RegisterCapability(app.Name(), capability)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Registry) RegisterCapability(appName string, capability *Capability) error {
	if err := checkHandler(capability); err != nil {
		return &CapabilityError{App: appName, Name: capability.Name, Err: err}
	}

	if capability.Schema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(capability.Schema))
		if err != nil {
			return &CapabilityError{App: appName, Name: capability.Name, Err: fmt.Errorf("failed to compile schema: %w", err)}
		}

		capability.schema = schema
	}

	capability.app = appName

	r.mu.Lock()
	defer r.mu.Unlock()

	capabilities, ok := r.apps[appName]
	if !ok {
		capabilities = make(map[string]*Capability)
		r.apps[appName] = capabilities
	}

	if _, exists := capabilities[capability.Name]; exists {
		return &CapabilityError{App: appName, Name: capability.Name, Err: ErrDuplicate}
	}

	capabilities[capability.Name] = capability

	return nil
}

// Resolve looks up a capability of any kind.
func (r *Registry) Resolve(appName, name string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capabilities, ok := r.apps[appName]
	if !ok {
		return nil, &CapabilityError{App: appName, Name: name, Err: ErrAppNotFound}
	}

	capability, ok := capabilities[name]
	if !ok {
		return nil, &CapabilityError{App: appName, Name: name, Err: ErrCapabilityNotFound}
	}

	return capability, nil
}

// ResolveKind looks up a capability and checks it can be used as kind.
func (r *Registry) ResolveKind(appName, name string, kind Kind) (*Capability, error) {
	capability, err := r.Resolve(appName, name)
	if err != nil {
		return nil, err
	}

	if capability.Kind != kind {
		return nil, &CapabilityError{
			App:     appName,
			Name:    name,
			Err:     ErrWrongKind,
			Message: fmt.Sprintf("want %s, got %s", kind, capability.Kind),
		}
	}

	return capability, nil
}

func (r *Registry) Apps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// LoadPlugins opens every *.so below pluginsPath/apps and registers its App symbol.
func (r *Registry) LoadPlugins(pluginsPath string) error {
	apps, err := loadPlugin[App](r.logger, pluginsPath, "App")
	if err != nil {
		return err
	}

	for _, app := range apps {
		err := r.Register(app)
		if err != nil {
			return err
		}
	}

	return nil
}

func checkHandler(capability *Capability) error {
	var ok bool

	switch capability.Kind {
	case KindAction:
		ok = capability.Action != nil
	case KindCondition:
		ok = capability.Condition != nil
	case KindTransform:
		ok = capability.Transform != nil
	default:
		return fmt.Errorf("unknown kind %q", capability.Kind)
	}

	if !ok {
		return fmt.Errorf("missing %s handler", capability.Kind)
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, strings.ToLower(symbolName)+"s")

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*/*.so")
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup %s in plugin %s: %w", symbolName, p, err)
		}

		switch symbol := v.(type) {
		case T:
			pluginList = append(pluginList, symbol)
		case *T:
			pluginList = append(pluginList, *symbol)
		default:
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
