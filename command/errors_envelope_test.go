package command

import (
	"context"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-leadsync/core"
)

func TestApplyEventMessage_ValidateReturnsRichError(t *testing.T) {
	err := (ApplyEventMessage{TenantID: "tenant_1"}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorValidation {
		t.Fatalf("expected %q text code, got %q", core.ErrorValidation, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 || validation[0].Field != "event" {
		t.Fatalf("expected event validation field, got %#v", validation)
	}
	if !core.IsValidationError(err) {
		t.Fatalf("expected core validation predicate to match")
	}
}

func TestMessages_ValidateRequiredFields(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"reconcile_tenant":  ReconcileTenantMessage{},
		"connect_state":     ConnectTenantMessage{Code: "code"},
		"connect_code":      ConnectTenantMessage{State: "state"},
		"disconnect_tenant": DisconnectTenantMessage{TenantID: "  "},
	}
	for name, msg := range cases {
		if err := msg.Validate(); !core.IsValidationError(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if err := (ConnectTenantMessage{State: "s", Code: "c"}).Validate(); err != nil {
		t.Fatalf("expected valid connect message, got %v", err)
	}
}

func TestReconcileTenantCommand_NilDependenciesReturnRichError(t *testing.T) {
	var cmd *ReconcileTenantCommand
	err := cmd.Execute(context.Background(), ReconcileTenantMessage{TenantID: "tenant_1"})
	if err == nil {
		t.Fatalf("expected dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}
