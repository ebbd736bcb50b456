package bdd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chirino/carevault/internal/testutil/cucumber"
	"github.com/chirino/carevault/internal/testutil/testkeycloak"
	"github.com/cucumber/godog"
)

// rootEmail is listed in the suite's admin emails; the root account promotes
// therapists and admins.
const rootEmail = "root@carevault.test"

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^I am registered as (user|therapist|admin) "([^"]*)"$`, a.iAmRegisteredAs)
		ctx.Step(`^user "([^"]*)" is registered as (user|therapist|admin)$`, a.userIsRegisteredAs)
		ctx.Step(`^I am "([^"]*)"$`, a.iAm)
		ctx.Step(`^I am anonymous$`, a.iAmAnonymous)
		ctx.Step(`^I am authenticated with keycloak as "([^"]*)"$`, a.iAmAuthenticatedWithKeycloakAs)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

func (a *authSteps) iAmRegisteredAs(role, name string) error {
	if err := a.userIsRegisteredAs(name, role); err != nil {
		return err
	}
	return a.iAm(name)
}

// userIsRegisteredAs creates a password account through the API, assigns the
// role and logs in. ${name.id}, ${name.email} and ${name.token} resolve afterwards.
func (a *authSteps) userIsRegisteredAs(name, role string) error {
	if a.s.Users[name] != nil {
		return fmt.Errorf("user %q is already registered in this scenario", name)
	}
	email := name + "@carevault.test"
	if role != "user" {
		if name == "root" {
			return fmt.Errorf("root is reserved")
		}
		if _, err := a.rootToken(); err != nil {
			return err
		}
	}
	user, err := a.registerAndLogin(name, email)
	if err != nil {
		return err
	}
	if role != "user" {
		root, _ := a.rootToken()
		var profile map[string]any
		if err := a.call(http.MethodPut, "/v1/admin/users/"+user.ID+"/role", root, map[string]string{"role": role}, &profile); err != nil {
			return fmt.Errorf("promote %s: %w", name, err)
		}
		// a fresh token carries the new role
		if user, err = a.login(name, email); err != nil {
			return err
		}
	}
	a.remember(user)
	return nil
}

func (a *authSteps) rootToken() (string, error) {
	if root := a.s.Users["root"]; root != nil {
		return root.Token, nil
	}
	root, err := a.registerAndLogin("root", rootEmail)
	if err != nil {
		return "", err
	}
	a.remember(root)
	return root.Token, nil
}

func (a *authSteps) remember(u *cucumber.TestUser) {
	a.s.Users[u.Name] = u
	a.s.Variables[u.Name] = map[string]interface{}{
		"id":    u.ID,
		"email": u.Email,
		"token": u.Token,
	}
}

func (a *authSteps) registerAndLogin(name, email string) (*cucumber.TestUser, error) {
	body := map[string]string{
		"email":       email,
		"password":    passwordFor(name),
		"displayName": strings.ToUpper(name[:1]) + name[1:],
	}
	var profile map[string]any
	if err := a.call(http.MethodPost, "/v1/auth/register", "", body, &profile); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return a.login(name, email)
}

func (a *authSteps) login(name, email string) (*cucumber.TestUser, error) {
	var tok struct {
		AccessToken string `json:"accessToken"`
		UserID      string `json:"userId"`
	}
	body := map[string]string{"email": email, "password": passwordFor(name)}
	if err := a.call(http.MethodPost, "/v1/auth/login", "", body, &tok); err != nil {
		return nil, fmt.Errorf("login %s: %w", name, err)
	}
	return &cucumber.TestUser{Name: name, ID: tok.UserID, Email: email, Token: tok.AccessToken}, nil
}

func passwordFor(name string) string {
	return "password-" + name
}

// call sends a JSON request outside of the scenario sessions so setup steps
// never clobber the response under test.
func (a *authSteps) call(method, path, token string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), method, a.s.Suite.APIURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, respBody)
	}
	return json.Unmarshal(respBody, out)
}

func (a *authSteps) iAm(name string) error {
	if a.s.Users[name] == nil {
		return fmt.Errorf("user %q is not registered in this scenario", name)
	}
	a.s.CurrentUser = name
	return nil
}

func (a *authSteps) iAmAnonymous() error {
	a.s.CurrentUser = ""
	return nil
}

// iAmAuthenticatedWithKeycloakAs logs a realm user in; each realm user's
// password equals the username.
func (a *authSteps) iAmAuthenticatedWithKeycloakAs(username string) error {
	kc, ok := a.s.Suite.Extra["keycloak"].(*testkeycloak.Server)
	if !ok {
		return fmt.Errorf("keycloak is not running for this suite")
	}
	token, err := kc.AccessToken(context.Background(), username, username)
	if err != nil {
		return err
	}
	a.s.Users[username] = &cucumber.TestUser{Name: username, Token: token}
	a.s.Variables[username] = map[string]interface{}{"token": token}
	a.s.CurrentUser = username
	return nil
}
