package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// QueueResolverKey is the resolver name used when leadsync commands are
// mirrored into a go-job queue registry.
const QueueResolverKey = "leadsync.queue"

var errRegistryNotConfigured = errors.New("gocommand: registry is not configured")

// ValidateMessageContract checks that msg carries a non-empty Type() and
// passes its own Validate() when it has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: %T must implement Type() string", msg)
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: %T has an empty message type", msg)
	}
	return nil
}

// RegistryAdapter wraps a go-command registry so leadsync handlers can be
// registered and subscribed in one step.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) configured() bool {
	return a != nil && a.registry != nil
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if !a.configured() {
		return errRegistryNotConfigured
	}
	return a.registry.RegisterCommand(cmd)
}

// RegisterQuery goes through RegisterCommand: the registry keys both kinds
// by message type.
func (a *RegistryAdapter) RegisterQuery(qry any) error {
	return a.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if !a.configured() {
		return errRegistryNotConfigured
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors every registered command into queueRegistry so a
// go-job worker can execute it.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	if strings.TrimSpace(key) == "" {
		key = QueueResolverKey
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if !a.configured() {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if !a.configured() {
		return errRegistryNotConfigured
	}
	return a.registry.Initialize()
}

// Mount registers bundle on a fresh registry, mirrors it into queueRegistry
// when one is given and initializes the registry. The returned
// subscriptions detach the handlers from the global dispatcher.
func Mount(bundle Bundle, queueRegistry *jobqueuecommand.Registry, runnerOpts ...runner.Option) (*RegistryAdapter, Subscriptions, error) {
	adapter := NewRegistryAdapter(nil)
	if queueRegistry != nil {
		if err := adapter.AddQueueResolver(QueueResolverKey, queueRegistry); err != nil {
			return nil, nil, err
		}
	}
	subs, err := RegisterBundle(adapter, bundle, runnerOpts...)
	if err != nil {
		return nil, nil, err
	}
	if err := adapter.Initialize(); err != nil {
		subs.Unsubscribe()
		return nil, nil, fmt.Errorf("gocommand: initialize registry: %w", err)
	}
	return adapter, subs, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe subscribes cmd on the dispatcher and registers it.
// A failed registration removes the subscription again.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if !adapter.configured() {
		return nil, errRegistryNotConfigured
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		unsubscribe(subscription)
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if !adapter.configured() {
		return nil, errRegistryNotConfigured
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		unsubscribe(subscription)
		return nil, err
	}
	return subscription, nil
}

func unsubscribe(subscription commanddispatcher.Subscription) {
	if subscription != nil {
		subscription.Unsubscribe()
	}
}
