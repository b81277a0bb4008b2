package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/turtacn/obo/internal/domain/models"
	"github.com/turtacn/obo/pkg/constants"
	"github.com/turtacn/obo/pkg/errors"
	"github.com/turtacn/obo/pkg/logger"
	"github.com/turtacn/obo/pkg/utils"
)

// StartPKCE begins an RFC 7636 authorization-code flow: it generates the
// state and verifier/challenge pair, records the pending flow (replacing any
// existing flow for the slip) and returns the authorization URL the principal
// must visit. The verifier never leaves the flow store.
func (m *Machine) StartPKCE(ctx context.Context, slipID, target string, cc ClientConfig, scopes []string, redirectURI string) (*models.PendingFlow, string, error) {
	if cc.ClientID == "" || cc.AuthorizeURL == "" || cc.TokenURL == "" {
		return nil, "", errors.ErrProviderNotConfigured(target, "pkce flow requires client_id, authorize_url and token_url")
	}

	state, err := utils.GenerateSecureRandomString(24)
	if err != nil {
		return nil, "", errors.ErrInternal("generate state").WithCause(err)
	}
	verifier, challenge, err := utils.GeneratePKCEPair()
	if err != nil {
		return nil, "", errors.ErrInternal("generate pkce pair").WithCause(err)
	}

	authURL, err := buildAuthorizeURL(cc.AuthorizeURL, url.Values{
		"response_type":         {"code"},
		"client_id":             {cc.ClientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {strings.Join(scopes, " ")},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"access_type":           {"offline"},
	})
	if err != nil {
		return nil, "", errors.ErrProviderNotConfigured(target, "authorize_url is not a valid URL").WithCause(err)
	}

	pending := models.NewPKCEFlow(slipID, target, models.PKCEFlowState{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
	}, time.Now().UTC().Add(constants.DefaultPKCEFlowExpiry))

	if err := m.flows.Put(ctx, pending); err != nil {
		return nil, "", errors.ErrInternal("store pending flow").WithCause(err)
	}

	m.log.Info(ctx, "pkce flow started", logger.Fields{
		"slip_id": slipID,
		"target":  target,
	})

	instructions := fmt.Sprintf("Visit %s to authorize access.", authURL)
	return pending, instructions, nil
}

// ExchangeCode resolves an authorization callback. The flow is claimed
// atomically by its state parameter, so a replayed callback finds nothing and
// fails with FlowNotFound. On success the authorization code and stored
// verifier are exchanged for an access token and the slip ID of the claimed
// flow is returned alongside it.
func (m *Machine) ExchangeCode(ctx context.Context, state, code string, cc ClientConfig) (string, string, error) {
	if state == "" || code == "" {
		return "", "", errors.ErrInvalidRequest("callback requires both code and state")
	}

	pending, err := m.flows.TakeByState(ctx, state)
	if err != nil {
		return "", "", errors.ErrInternal("flow lookup").WithCause(err)
	}
	if pending == nil {
		return "", "", errors.ErrFlowNotFound("state " + state)
	}
	if pending.IsExpired() {
		return "", "", errors.ErrFlowExpired(pending.SlipID)
	}
	if pending.Protocol != models.FlowProtocolPKCE || pending.PKCE == nil {
		return "", "", errors.ErrInvalidRequest("flow for state is not an authorization-code flow")
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {cc.ClientID},
		"code":          {code},
		"code_verifier": {pending.PKCE.CodeVerifier},
		"redirect_uri":  {pending.PKCE.RedirectURI},
	}

	// Confidential clients authenticate with HTTP Basic rather than a form
	// field; public clients send only the verifier.
	basicUser, basicPass := "", ""
	if cc.ClientSecret != "" {
		basicUser, basicPass = cc.ClientID, cc.ClientSecret
	}

	tr, err := m.postForm(ctx, cc.TokenURL, form, basicUser, basicPass)
	if err != nil {
		return pending.SlipID, "", errors.Wrap(err, constants.ErrCodeProviderError, "code exchange request failed")
	}
	if tr.Error != "" {
		m.log.Warn(ctx, "pkce exchange denied", logger.Fields{"slip_id": pending.SlipID, "error": tr.Error})
		return pending.SlipID, "", errors.ErrProvider(tr.Error, tr.ErrorDescription)
	}
	if tr.AccessToken == "" {
		return pending.SlipID, "", errors.ErrProvider("invalid_response", "token response carries neither access_token nor error")
	}

	m.log.Info(ctx, "pkce flow granted", logger.Fields{"slip_id": pending.SlipID})
	return pending.SlipID, tr.AccessToken, nil
}

// Deny resolves a callback that carried an error parameter instead of a code.
// The flow is claimed and discarded; the upstream error is surfaced verbatim.
func (m *Machine) Deny(ctx context.Context, state, oauthErr string) (string, error) {
	pending, err := m.flows.TakeByState(ctx, state)
	if err != nil {
		return "", errors.ErrInternal("flow lookup").WithCause(err)
	}
	if pending == nil {
		return "", errors.ErrFlowNotFound("state " + state)
	}
	m.log.Warn(ctx, "pkce flow denied at callback", logger.Fields{"slip_id": pending.SlipID, "error": oauthErr})
	return pending.SlipID, nil
}

func buildAuthorizeURL(base string, params url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
