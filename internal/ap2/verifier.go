package ap2

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/pkg/x402"
)

// Verifier runs the AP2 evidence check chain against a proxied payment.
// Checks run in contract order; the first failure wins.
type Verifier struct {
	chainIDs map[string]int64

	now func() time.Time
}

// NewVerifier builds a verifier with the network-to-chain-ID map used for
// EIP-712 domain construction.
func NewVerifier(chainIDs map[string]int64) *Verifier {
	return &Verifier{
		chainIDs: chainIDs,
		now:      time.Now,
	}
}

// VerifyInput carries everything the check chain reads.
type VerifyInput struct {
	Requirements x402.PaymentRequirements

	// Payload is the decoded payment payload object. For verify this is the
	// decoded X-PAYMENT header when present, otherwise the body payload.
	Payload map[string]any

	// PaymentHeader is the verbatim X-PAYMENT header value, if the buyer
	// sent one.
	PaymentHeader string

	// OriginHeader is the request's Origin header, if any. When absent the
	// origin is derived from the resource URL.
	OriginHeader string

	// EvidenceHeader and EvidenceBody are the base64 evidence from the
	// X-AP2-EVIDENCE header and the ap2EvidenceHeader body field. The header
	// wins when both are set.
	EvidenceHeader string
	EvidenceBody   string
}

// VerifyIfPresent runs the chain when the request carries evidence or the
// requirements' policy demands mandates. A (nil, nil) return means there was
// nothing to verify. Malformed policy is fatal regardless of evidence.
func (v *Verifier) VerifyIfPresent(in VerifyInput) (*Evidence, error) {
	policy, err := ExtractPolicy(in.Requirements)
	if err != nil {
		return nil, err
	}
	if in.EvidenceHeader == "" && in.EvidenceBody == "" && !policy.Demands() {
		return nil, nil
	}
	return v.Verify(in)
}

// Verify runs the full chain and returns the evidence it validated. A nil
// error means the evidence satisfies the merchant's policy and binds to this
// exact payment.
func (v *Verifier) Verify(in VerifyInput) (*Evidence, error) {
	policy, err := ExtractPolicy(in.Requirements)
	if err != nil {
		return nil, err
	}
	ev, err := ParseEvidence(in.EvidenceHeader, in.EvidenceBody)
	if err != nil {
		return nil, err
	}
	if err := enforcePolicyFlags(policy, ev); err != nil {
		return nil, err
	}
	if err := verifyCongruence(ev, in.Requirements); err != nil {
		return nil, err
	}
	if err := verifyTTL(ev, v.now()); err != nil {
		return nil, err
	}
	if err := verifyOriginBinding(ev, in.Requirements, in.OriginHeader); err != nil {
		return nil, err
	}
	if err := verifyPaymentHashBinding(ev, in.PaymentHeader, in.Payload); err != nil {
		return nil, err
	}
	if err := verifyMerchantIdentity(policy, in.Requirements); err != nil {
		return nil, err
	}
	payer := ExtractPayer(in.Payload)
	if err := v.verifySignature(ev, in.Requirements, payer); err != nil {
		return nil, err
	}
	if err := enforceAmount(in.Payload, in.Requirements); err != nil {
		return nil, err
	}
	return ev, nil
}

// enforcePolicyFlags rejects evidence missing a mandate UID the merchant
// requires.
func enforcePolicyFlags(policy Policy, ev *Evidence) error {
	if policy.RequireIntentMandate && ev.IntentUID == "" {
		return failed(apperrors.ErrCodeUnspecified, "AP2: intent_uid required")
	}
	if policy.RequireCartMandate && ev.CartUID == "" {
		return failed(apperrors.ErrCodeUnspecified, "AP2: cart_uid required")
	}
	if policy.RequirePaymentMandate && ev.PaymentUID == "" {
		return failed(apperrors.ErrCodeUnspecified, "AP2: payment_uid required")
	}
	if policy.RequireTrace && ev.TraceUID == "" {
		return failed(apperrors.ErrCodeUnspecified, "AP2: trace_uid required")
	}
	return nil
}

// verifyCongruence checks evidence fields against the requirements the
// seller actually quoted. Resource and network compare exactly; addresses
// compare case-insensitively.
func verifyCongruence(ev *Evidence, pr x402.PaymentRequirements) error {
	if ev.Resource != pr.Resource {
		return failed(apperrors.ErrCodeAP2ResourceMismatch, "AP2: resource mismatch")
	}
	if ev.Network != pr.Network {
		return failed(apperrors.ErrCodeAP2NetworkMismatch, "AP2: network mismatch")
	}
	if !strings.EqualFold(ev.PayTo, pr.PayTo) {
		return failed(apperrors.ErrCodeAP2PayToMismatch, "AP2: payTo mismatch")
	}
	if pr.Asset != "" && !strings.EqualFold(ev.Asset, pr.Asset) {
		return failed(apperrors.ErrCodeAP2AssetMismatch, "AP2: asset mismatch")
	}
	return nil
}

// verifyTTL checks the evidence validity window at the given instant.
func verifyTTL(ev *Evidence, now time.Time) error {
	nowS := now.Unix()
	if ev.NotBefore != 0 && nowS < ev.NotBefore {
		return failed(apperrors.ErrCodeAP2TTLNotBefore, "AP2: notBefore not reached")
	}
	if ev.NotAfter != 0 && nowS > ev.NotAfter {
		return failed(apperrors.ErrCodeAP2TTLExpired, "AP2: notAfter passed")
	}
	if ev.Exp != "" {
		exp, err := parseISO8601(ev.Exp)
		if err != nil {
			return failed(apperrors.ErrCodeAP2EvidenceInvalid,
				fmt.Sprintf("Invalid AP2 evidence: bad exp timestamp: %v", err))
		}
		if nowS > exp {
			return failed(apperrors.ErrCodeAP2TTLExpired, "AP2: exp passed")
		}
	}
	return nil
}

func parseISO8601(ts string) (int64, error) {
	// ISO 8601 is looser than RFC 3339: the zone may be absent and the date
	// separator may be a space. Zoneless timestamps are read as UTC.
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", ts)
}

// verifyOriginBinding recomputes sha256(lower(trim(origin))) and compares it
// to the 32-byte originHash. The Origin request header wins; otherwise the
// origin derives from the resource URL.
func verifyOriginBinding(ev *Evidence, pr x402.PaymentRequirements, originHeader string) error {
	origin := originHeader
	if origin == "" {
		u, err := url.Parse(pr.Resource)
		if err != nil {
			u = &url.URL{}
		}
		scheme := u.Scheme
		if scheme == "" {
			scheme = "https"
		}
		origin = scheme + "://" + u.Host
	}

	expected := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(origin))))

	got, err := decodeBytes32(ev.OriginHash)
	if err != nil {
		return failed(apperrors.ErrCodeAP2EvidenceInvalid,
			fmt.Sprintf("Invalid AP2 evidence: bad originHash: %v", err))
	}
	if got != expected {
		return failed(apperrors.ErrCodeAP2OriginMismatch, "AP2: originHash mismatch")
	}
	return nil
}

// verifyPaymentHashBinding recomputes keccak256 over the base64 text of the
// payment and compares it to the evidence paymentHash. Both paths hash the
// base64 ASCII: the verbatim X-PAYMENT header when present, otherwise
// base64(canonical JSON) of the payload.
func verifyPaymentHashBinding(ev *Evidence, paymentHeader string, payload map[string]any) error {
	var expected []byte
	if paymentHeader != "" {
		if _, err := x402.SafeBase64Decode(paymentHeader); err != nil {
			return failed(apperrors.ErrCodeUnspecified, "Invalid X-PAYMENT header base64")
		}
		expected = crypto.Keccak256([]byte(paymentHeader))
	} else {
		b64, err := x402.CanonicalBase64(payload)
		if err != nil {
			return failed(apperrors.ErrCodeUnspecified,
				fmt.Sprintf("Cannot canonicalize paymentPayload: %v", err))
		}
		expected = crypto.Keccak256([]byte(b64))
	}

	got, err := decodeBytes32(ev.PaymentHash)
	if err != nil {
		return failed(apperrors.ErrCodeAP2EvidenceInvalid,
			fmt.Sprintf("Invalid AP2 evidence: bad paymentHash: %v", err))
	}
	var want [32]byte
	copy(want[:], expected)
	if got != want {
		return failed(apperrors.ErrCodeAP2PaymentHashMismatch, "AP2: paymentHash mismatch")
	}
	return nil
}

// verifyMerchantIdentity checks the resource host against the accepted
// did:web merchant identifiers, with and without the port.
func verifyMerchantIdentity(policy Policy, pr x402.PaymentRequirements) error {
	if len(policy.AcceptedMerchantIDs) == 0 {
		return nil
	}

	u, err := url.Parse(pr.Resource)
	if err != nil {
		u = &url.URL{}
	}
	host := strings.ToLower(u.Host)
	hostNoPort := host
	if i := strings.Index(host, ":"); i >= 0 {
		hostNoPort = host[:i]
	}

	for _, mid := range policy.AcceptedMerchantIDs {
		if !strings.HasPrefix(mid, "did:web:") {
			continue
		}
		id := strings.ToLower(strings.SplitN(mid, ":", 3)[2])
		if id == host || id == hostNoPort {
			return nil
		}
	}
	return failed(apperrors.ErrCodeAP2MerchantDenied, "AP2: merchant identity not accepted")
}

// ExtractPayer walks the known payload shapes for the paying address.
func ExtractPayer(payload map[string]any) string {
	paths := [][]string{
		{"payload", "authorization", "from"},
		{"payload", "from"},
		{"authorization", "from"},
		{"from"},
		{"payer"},
	}
	for _, path := range paths {
		var ref any = payload
		ok := true
		for _, key := range path {
			m, isMap := ref.(map[string]any)
			if !isMap {
				ok = false
				break
			}
			ref, ok = m[key]
			if !ok {
				break
			}
		}
		if ok {
			if s, isStr := ref.(string); isStr {
				return s
			}
		}
	}
	return ""
}

// enforceAmount rejects payments whose authorized value exceeds the quoted
// maxAmountRequired. Both values must parse as integers for the check to
// apply.
func enforceAmount(payload map[string]any, pr x402.PaymentRequirements) error {
	value := authorizedValue(payload)
	if value == nil || pr.MaxAmountRequired == "" {
		return nil
	}
	maxAmount, ok := new(big.Int).SetString(pr.MaxAmountRequired, 10)
	if !ok {
		return nil
	}
	if value.Cmp(maxAmount) > 0 {
		return failed(apperrors.ErrCodeUnspecified, "Amount exceeds maxAmountRequired")
	}
	return nil
}

// authorizedValue digs payload.authorization.value out of the payment
// payload, tolerating string and numeric JSON forms.
func authorizedValue(payload map[string]any) *big.Int {
	inner, ok := payload["payload"].(map[string]any)
	if !ok {
		return nil
	}
	auth, ok := inner["authorization"].(map[string]any)
	if !ok {
		return nil
	}
	switch v := auth["value"].(type) {
	case string:
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil
		}
		return n
	case float64:
		if v != float64(int64(v)) {
			return nil
		}
		return big.NewInt(int64(v))
	default:
		return nil
	}
}

// decodeBytes32 decodes a hex string into a 32-byte value, left-padding
// short inputs with zeros. The 0x prefix is optional.
func decodeBytes32(hexstr string) ([32]byte, error) {
	var out [32]byte
	h := strings.TrimPrefix(hexstr, "0x")
	if len(h) > 64 {
		return out, fmt.Errorf("value longer than 32 bytes")
	}
	h = strings.Repeat("0", 64-len(h)) + h
	b, err := hex.DecodeString(h)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

