package ucs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/stores"
)

// fakeController speaks just enough of the command protocol for the
// client: it answers by root element name.
type fakeController struct {
	blades   string
	profiles string
	resolved string
	failWith string
}

func (f *fakeController) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cmd := string(body)

		if r.Header.Get("Content-Type") != contentTypeXML {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}

		// Sessions establish normally; failWith only poisons the
		// command that rides on them.
		switch {
		case strings.HasPrefix(cmd, "<aaaLogin"):
			io.WriteString(w, `<aaaLogin outCookie="cookie-1" response="yes" />`)
			return
		case strings.HasPrefix(cmd, "<aaaRefresh"):
			io.WriteString(w, `<aaaRefresh outCookie="cookie-2" response="yes" />`)
			return
		}

		if f.failWith != "" {
			io.WriteString(w, f.failWith)
			return
		}

		switch {
		case strings.Contains(cmd, `classId="computeBlade"`):
			io.WriteString(w, f.blades)
		case strings.Contains(cmd, `classId="lsServer"`):
			io.WriteString(w, f.profiles)
		case strings.HasPrefix(cmd, "<configResolveDn"):
			io.WriteString(w, f.resolved)
		case strings.HasPrefix(cmd, "<lsClone"), strings.HasPrefix(cmd, "<lsInstantiateTemplate"):
			io.WriteString(w, `<lsClone response="yes"><outConfig><lsServer dn="org-root/ls-new-profile" /></outConfig></lsClone>`)
		default:
			io.WriteString(w, `<configConfMo response="yes"><outConfig></outConfig></configConfMo>`)
		}
	}
}

func newTestClient(t *testing.T, fc *fakeController) (*Client, *stores.Endpoint, func()) {
	t.Helper()
	srv := httptest.NewServer(fc.handler())
	client := NewClient(ClientOptions{Logger: zerolog.Nop()})
	ep := &stores.Endpoint{
		ID:       "ep-1",
		URL:      srv.URL,
		Username: "admin",
		Password: "secret",
		Kind:     stores.EndpointKindCompute,
	}
	return client, ep, srv.Close
}

func TestListBlades(t *testing.T) {
	fc := &fakeController{
		blades: `<configResolveClass response="yes"><outConfigs>` +
			`<computeBlade dn="sys/chassis-1/blade-1" assignedToDn="" association="none" numOfCores="16" totalMemory="65536" />` +
			`<computeBlade dn="sys/chassis-1/blade-2" assignedToDn="org-root/ls-profile-a" association="associated" numOfCores="16" totalMemory="65536" />` +
			`</outConfigs></configResolveClass>`,
	}
	client, ep, done := newTestClient(t, fc)
	defer done()

	blades, err := client.ListBlades(context.Background(), ep)
	if err != nil {
		t.Fatalf("list blades: %v", err)
	}
	if len(blades) != 2 {
		t.Fatalf("expected 2 blades, got %d", len(blades))
	}
	if blades[0].Assigned() {
		t.Error("blade-1 should be unassigned")
	}
	if !blades[1].Assigned() || blades[1].AssignedToDn != "org-root/ls-profile-a" {
		t.Errorf("blade-2 assignment wrong: %+v", blades[1])
	}
}

func TestListProfilesSplitsTemplates(t *testing.T) {
	fc := &fakeController{
		profiles: `<configResolveClass response="yes"><outConfigs>` +
			`<lsServer dn="org-root/ls-profile-a" type="instance" assocState="associated" />` +
			`<lsServer dn="org-root/ls-template-1" type="initial-template" assocState="none" />` +
			`<lsServer dn="org-root/ls-template-2" type="updating-template" assocState="none" />` +
			`</outConfigs></configResolveClass>`,
	}
	client, ep, done := newTestClient(t, fc)
	defer done()
	ctx := context.Background()

	profiles, err := client.ListProfiles(ctx, ep)
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Dn != "org-root/ls-profile-a" {
		t.Errorf("unexpected profiles: %+v", profiles)
	}

	templates, err := client.ListTemplates(ctx, ep)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 2 {
		t.Errorf("expected 2 templates, got %+v", templates)
	}
}

func TestCloneProfileReturnsNewDn(t *testing.T) {
	client, ep, done := newTestClient(t, &fakeController{})
	defer done()

	dn, err := client.CloneProfile(context.Background(), ep, "org-root/ls-src", "new-profile")
	if err != nil {
		t.Fatalf("clone profile: %v", err)
	}
	if dn != "org-root/ls-new-profile" {
		t.Errorf("unexpected cloned dn: %s", dn)
	}
}

func TestBladeAssociationState(t *testing.T) {
	fc := &fakeController{
		resolved: `<configResolveDn response="yes"><outConfig>` +
			`<computeBlade dn="sys/chassis-1/blade-1" association="associating" />` +
			`</outConfig></configResolveDn>`,
	}
	client, ep, done := newTestClient(t, fc)
	defer done()

	state, err := client.BladeAssociation(context.Background(), ep, "sys/chassis-1/blade-1")
	if err != nil {
		t.Fatalf("blade association: %v", err)
	}
	if state != AssociationAssociating {
		t.Errorf("expected associating, got %s", state)
	}
}

func TestControllerErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		failWith string
		check    func(error) bool
	}{
		{
			"not found",
			`<configResolveDn response="yes" errorCode="ERR-MO-NOT-FOUND" errorDescr="no such object" />`,
			remote.IsNotFound,
		},
		{
			"generic controller error",
			`<configConfMo response="yes" errorCode="ERR-ACCESS-DENIED" errorDescr="insufficient privileges" />`,
			remote.IsProtocol,
		},
		{
			"garbage body",
			`{"not": "xml"}`,
			remote.IsProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, ep, done := newTestClient(t, &fakeController{failWith: tt.failWith})
			defer done()

			_, err := client.BladeAssociation(context.Background(), ep, "sys/blade-1")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("wrong classification: %v", err)
			}
		})
	}
}

func TestTransportErrorOnUnreachableController(t *testing.T) {
	client := NewClient(ClientOptions{Logger: zerolog.Nop()})
	ep := &stores.Endpoint{
		ID:       "ep-dead",
		URL:      "http://127.0.0.1:1/nuova",
		Username: "admin",
		Password: "secret",
	}

	_, err := client.ListBlades(context.Background(), ep)
	if err == nil {
		t.Fatal("expected an error")
	}
	// The failing call is the login round trip, so the transport
	// failure surfaces wrapped in an auth error.
	if !remote.IsAuth(err) {
		t.Errorf("expected auth error wrapping transport failure, got %v", err)
	}
}

func TestLoginFailureSurfacesAsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<aaaLogin response="yes" errorCode="ERR-AUTH" errorDescr="bad credentials" />`)
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{Logger: zerolog.Nop()})
	ep := &stores.Endpoint{ID: "ep-1", URL: srv.URL, Username: "admin", Password: "wrong"}

	_, err := client.ListBlades(context.Background(), ep)
	if !remote.IsAuth(err) {
		t.Errorf("expected auth error, got %v", err)
	}
}
