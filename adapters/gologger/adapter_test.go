package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolve_PrefersProviderThenLogger(t *testing.T) {
	direct := &capturingLogger{id: "logger"}
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}

	set := Resolve("leadsync", provider, direct)
	if got := set.Logger.(*capturingLogger); got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	set = Resolve("", nil, direct)
	if got := set.Logger.(*capturingLogger); got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if set.Provider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if Resolve("leadsync", nil, nil).Logger == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestSet_ComponentNamesChildLoggers(t *testing.T) {
	provider := &capturingProvider{logger: &capturingLogger{id: "provider"}}
	set := Resolve(DefaultName, provider, nil)

	set.Component(".token.")
	if provider.lastName != "leadsync.token" {
		t.Fatalf("expected component logger name, got %q", provider.lastName)
	}
	set.Component("  ")
	if provider.lastName != DefaultName {
		t.Fatalf("expected root logger name, got %q", provider.lastName)
	}
	if (Set{}).Component("reconcile") == nil {
		t.Fatalf("expected nop logger for an empty set")
	}
}

func TestSet_JobBridgesForwardToProvider(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	set := Resolve("leadsync.jobs", &capturingProvider{logger: providerLogger}, nil)

	if set.JobLogger() == nil {
		t.Fatalf("expected go-job logger bridge")
	}
	jobProvider := set.JobProvider()
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	jobProvider.GetLogger("leadsync.jobs").Info("job settled", "job_id", "leadsync.reconcile.tenant")

	captured := providerLogger.lastInfo
	if captured.msg != "job settled" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if len(captured.args) != 2 || captured.args[0] != "job_id" || captured.args[1] != "leadsync.reconcile.tenant" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
	if (Set{}).JobProvider() != nil || (Set{}).JobLogger() != nil {
		t.Fatalf("expected nil bridges for an empty set")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger   *capturingLogger
	lastName string
}

func (p *capturingProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	p.lastName = name
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
