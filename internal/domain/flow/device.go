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
)

// deviceAuthResponse is the device-authorization endpoint reply per RFC 8628
// §3.2. GitHub spells verification_uri as verification_uri; some servers use
// verification_url, so both are accepted.
type deviceAuthResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Error           string `json:"error"`
}

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// StartDevice begins a device-code flow: it obtains a device/user code pair
// from the authorization server, records the pending flow (replacing any
// existing flow for the slip) and returns human-readable instructions
// containing the verification URI and user code.
func (m *Machine) StartDevice(ctx context.Context, slipID, target string, cc ClientConfig, scopes []string) (*models.PendingFlow, string, error) {
	if cc.ClientID == "" || cc.DeviceAuthURL == "" || cc.TokenURL == "" {
		return nil, "", errors.ErrProviderNotConfigured(target, "device flow requires client_id, device_auth_url and token_url")
	}

	form := url.Values{
		"client_id": {cc.ClientID},
		"scope":     {strings.Join(scopes, " ")},
	}

	req, err := m.deviceAuthorize(ctx, cc.DeviceAuthURL, form)
	if err != nil {
		return nil, "", err
	}

	verificationURI := req.VerificationURI
	if verificationURI == "" {
		verificationURI = req.VerificationURL
	}
	expiresIn := time.Duration(req.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = constants.DefaultDeviceFlowExpiry
	}
	interval := time.Duration(req.Interval) * time.Second

	pending := models.NewDeviceFlow(slipID, target, models.DeviceFlowState{
		DeviceCode:      req.DeviceCode,
		UserCode:        req.UserCode,
		VerificationURI: verificationURI,
	}, interval, time.Now().UTC().Add(expiresIn))

	if err := m.flows.Put(ctx, pending); err != nil {
		return nil, "", errors.ErrInternal("store pending flow").WithCause(err)
	}

	m.log.Info(ctx, "device flow started", logger.Fields{
		"slip_id": slipID,
		"target":  target,
	})

	instructions := fmt.Sprintf("Visit %s and enter code %s to authorize access.", verificationURI, req.UserCode)
	return pending, instructions, nil
}

// deviceAuthorize posts to the device-code endpoint and validates the reply.
func (m *Machine) deviceAuthorize(ctx context.Context, endpoint string, form url.Values) (*deviceAuthResponse, error) {
	req, err := m.postFormRaw(ctx, endpoint, form)
	if err != nil {
		return nil, errors.Wrap(err, constants.ErrCodeProviderError, "device authorization request failed")
	}
	if req.Error != "" {
		return nil, errors.ErrProvider(req.Error, "device authorization rejected")
	}
	if req.DeviceCode == "" || req.UserCode == "" {
		return nil, errors.ErrProvider("invalid_response", "device authorization response is missing device_code or user_code")
	}
	return req, nil
}

// pollDevice runs the Polling state: bounded attempts against the token
// endpoint at the flow's interval, honoring the caller's context and the
// flow's own deadline. Response classification follows RFC 8628 §3.5:
// authorization_pending continues, slow_down doubles the interval, any other
// error is terminal, and attempt exhaustion maps to AuthorizationTimedOut.
func (m *Machine) pollDevice(ctx context.Context, pending *models.PendingFlow, cc ClientConfig) (string, error) {
	interval := pending.PollInterval
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}

	form := url.Values{
		"client_id":   {cc.ClientID},
		"device_code": {pending.Device.DeviceCode},
		"grant_type":  {deviceGrantType},
	}
	if cc.ClientSecret != "" {
		form.Set("client_secret", cc.ClientSecret)
	}

	for attempt := 1; attempt <= constants.MaxPollAttempts; attempt++ {
		if time.Now().UTC().After(pending.ExpiresAt) {
			_ = m.flows.Delete(ctx, pending.SlipID)
			return "", errors.ErrFlowExpired(pending.SlipID)
		}

		tr, err := m.postForm(ctx, cc.TokenURL, form, "", "")
		if err != nil {
			if ctx.Err() != nil {
				// Caller cancelled; keep the flow so a later call can retry.
				return "", ctx.Err()
			}
			return "", errors.Wrap(err, constants.ErrCodeProviderError, "token polling request failed")
		}

		switch {
		case tr.AccessToken != "":
			// Granted. Claim the flow atomically: if another completion
			// already took it, this call lost the race.
			taken, terr := m.flows.TakeBySlip(ctx, pending.SlipID)
			if terr != nil {
				return "", errors.ErrInternal("claim completed flow").WithCause(terr)
			}
			if taken == nil {
				return "", errors.ErrFlowNotFound(pending.SlipID)
			}
			m.log.Info(ctx, "device flow granted", logger.Fields{"slip_id": pending.SlipID, "attempts": attempt})
			return tr.AccessToken, nil

		case tr.Error == constants.OAuthErrAuthorizationPending:
			// Loop-continuation signal, not an error.

		case tr.Error == constants.OAuthErrSlowDown:
			interval *= 2

		case tr.Error == constants.OAuthErrExpiredToken:
			_ = m.flows.Delete(ctx, pending.SlipID)
			return "", errors.ErrFlowExpired(pending.SlipID)

		case tr.Error != "":
			// Denied: terminal, flow deleted, upstream error surfaced verbatim.
			_ = m.flows.Delete(ctx, pending.SlipID)
			m.log.Warn(ctx, "device flow denied", logger.Fields{"slip_id": pending.SlipID, "error": tr.Error})
			return "", errors.ErrProvider(tr.Error, tr.ErrorDescription)

		default:
			return "", errors.ErrProvider("invalid_response", "token response carries neither access_token nor error")
		}

		if attempt < constants.MaxPollAttempts {
			if err := sleepCtx(ctx, interval); err != nil {
				return "", err
			}
		}
	}

	// Attempts exhausted: the flow is spent.
	_ = m.flows.Delete(ctx, pending.SlipID)
	return "", errors.ErrAuthorizationTimedOut(pending.SlipID, constants.MaxPollAttempts)
}
