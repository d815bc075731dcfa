package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"electorate/internal/credential"
	"electorate/internal/registrar"
	"electorate/internal/status"
	"electorate/pkg/domain"
	dErrors "electorate/pkg/domain-errors"
	"electorate/pkg/platform/httputil"
	"electorate/pkg/requestcontext"
)

// Service contracts the router depends on. Narrow interfaces keep handler
// tests on small fakes instead of full service fixtures.
type (
	RegistrarService interface {
		Register(ctx context.Context, fullName, nationalID string) (*registrar.Result, error)
		Verify(ctx context.Context, key domain.IdentityKey) (*registrar.VerifyResult, error)
	}

	CredentialService interface {
		Issue(ctx context.Context, key domain.IdentityKey) (*credential.Issued, error)
		Redeem(ctx context.Context, envelope string) (*credential.Redeemed, error)
	}

	StatusService interface {
		Resolve(ctx context.Context, key domain.IdentityKey) (*status.Status, error)
	}

	ArtifactFetcher interface {
		Fetch(ctx context.Context, id domain.CredentialID) ([]byte, error)
	}
)

type handler struct {
	deps Deps
}

// maxBodyBytes bounds request bodies; every payload here is small JSON.
const maxBodyBytes = 1 << 16

type registerRequest struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
}

type registerResponse struct {
	IdentityKey    string `json:"identity_key"`
	DerivedAddress string `json:"derived_address"`
	Registered     bool   `json:"registered"`
	OnLedger       bool   `json:"on_ledger"`
	LedgerTxRef    string `json:"ledger_tx_ref,omitempty"`
	State          string `json:"state"`
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.FullName == "" || req.NationalID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "full_name and national_id are required"))
		return
	}

	res, err := h.deps.Registrar.Register(r.Context(), req.FullName, req.NationalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		IdentityKey:    res.IdentityKey.String(),
		DerivedAddress: res.DerivedAddress,
		Registered:     res.Registered,
		OnLedger:       res.OnLedger,
		LedgerTxRef:    res.LedgerTxRef.String(),
		State:          string(res.FinalState),
	})
}

type verifyRequest struct {
	IdentityKey string `json:"identity_key"`
}

type verifyResponse struct {
	IdentityKey string `json:"identity_key"`
	Verified    bool   `json:"verified"`
	LedgerTxRef string `json:"ledger_tx_ref,omitempty"`
}

func (h *handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	key, err := domain.ParseIdentityKey(req.IdentityKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.deps.Registrar.Verify(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		IdentityKey: res.IdentityKey.String(),
		Verified:    res.Verified,
		LedgerTxRef: res.LedgerTxRef.String(),
	})
}

type issueRequest struct {
	IdentityKey string `json:"identity_key"`
}

type issueResponse struct {
	CredentialID string    `json:"credential_id"`
	Envelope     string    `json:"envelope"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ArtifactURL  string    `json:"artifact_url,omitempty"`
}

func (h *handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	key, err := domain.ParseIdentityKey(req.IdentityKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	issued, err := h.deps.Credentials.Issue(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issueResponse{
		CredentialID: issued.Credential.ID.String(),
		Envelope:     issued.Envelope,
		IssuedAt:     issued.Credential.IssuedAt,
		ExpiresAt:    issued.Credential.ExpiresAt,
		ArtifactURL:  issued.ArtifactURL,
	})
}

type redeemRequest struct {
	Envelope string `json:"envelope"`
}

type redeemResponse struct {
	Success      bool      `json:"success"`
	CredentialID string    `json:"credential_id"`
	VoterRef     string    `json:"voter_ref"`
	ConsumedAt   time.Time `json:"consumed_at"`
}

func (h *handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Envelope == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "envelope is required"))
		return
	}

	res, err := h.deps.Credentials.Redeem(r.Context(), req.Envelope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, redeemResponse{
		Success:      true,
		CredentialID: res.CredentialID.String(),
		VoterRef:     res.VoterRef,
		ConsumedAt:   res.ConsumedAt,
	})
}

type statusResponse struct {
	IdentityKey string     `json:"identity_key"`
	Registered  bool       `json:"registered"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	OnLedger    bool       `json:"on_ledger"`
	Consumed    bool       `json:"consumed"`
	Source      string     `json:"source"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParseIdentityKey(chi.URLParam(r, "identityKey"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	st, err := h.deps.Status.Resolve(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		IdentityKey: st.IdentityKey.String(),
		Registered:  st.Registered,
		Verified:    st.Verified,
		VerifiedAt:  st.VerifiedAt,
		OnLedger:    st.OnLedger,
		Consumed:    st.Consumed,
		Source:      string(st.Source),
	})
}

func (h *handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseCredentialID(chi.URLParam(r, "credentialID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	png, err := h.deps.Artifacts.Fetch(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeNotFound, "credential artifact not found"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type adminLoginRequest struct {
	Secret string `json:"secret"`
}

type adminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ctx := r.Context()
	session, err := h.deps.Admin.Login(ctx, req.Secret,
		requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adminLoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]string, len(h.deps.Health))
	healthy := true
	for _, hc := range h.deps.Health {
		if err := hc.Check(); err != nil {
			checks[hc.Name] = err.Error()
			healthy = false
			continue
		}
		checks[hc.Name] = "ok"
	}

	statusCode := http.StatusOK
	state := "ok"
	if !healthy {
		statusCode = http.StatusServiceUnavailable
		state = "degraded"
	}
	httputil.WriteJSON(w, statusCode, map[string]any{
		"status": state,
		"checks": checks,
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}
