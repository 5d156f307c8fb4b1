// Package gologger resolves the go-logger pair every leadsync component logs
// through and bridges it to go-job.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultName = "leadsync"

// Set is a resolved provider and root logger. Components take named
// children of the provider.
type Set struct {
	Provider glog.LoggerProvider
	Logger   glog.Logger
}

// Resolve prefers provider, then logger, then a nop logger.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) Set {
	if name = strings.TrimSpace(name); name == "" {
		name = DefaultName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	return Set{Provider: resolvedProvider, Logger: resolvedLogger}
}

// Component returns the logger named "leadsync.<component>". Surrounding
// dots are ignored and an empty component yields the root name.
func (s Set) Component(component string) glog.Logger {
	name := DefaultName
	if component = strings.Trim(strings.TrimSpace(component), "."); component != "" {
		name += "." + component
	}
	_, logger := glog.Resolve(name, s.Provider, s.Logger)
	return logger
}

// JobProvider exposes the set to go-job workers.
func (s Set) JobProvider() job.LoggerProvider {
	if s.Provider == nil {
		return nil
	}
	return job.GoLoggerProvider(s.Provider)
}

func (s Set) JobLogger() job.Logger {
	if s.Logger == nil {
		return nil
	}
	return job.GoLogger(s.Logger)
}
