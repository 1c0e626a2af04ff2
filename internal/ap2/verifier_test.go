package ap2

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/pkg/x402"
)

const (
	testPayTo = "0x1111111111111111111111111111111111111111"
	testAsset = "0x2222222222222222222222222222222222222222"
	testPayer = "0x3333333333333333333333333333333333333333"
)

func newTestVerifier() *Verifier {
	return NewVerifier(map[string]int64{"base": 8453, "base-sepolia": 84532})
}

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "https://merchant.example.com/premium",
		PayTo:             testPayTo,
		Asset:             testAsset,
		Extra:             map[string]any{"name": "USDC", "version": "2"},
	}
}

func testPayload(payer string) map[string]any {
	return map[string]any{
		"x402Version": float64(1),
		"scheme":      "exact",
		"network":     "base-sepolia",
		"payload": map[string]any{
			"signature": "0xsig",
			"authorization": map[string]any{
				"from":  payer,
				"to":    testPayTo,
				"value": "5000",
			},
		},
	}
}

// evidenceFor builds evidence whose hashes bind to the given payment. When
// paymentHeader is empty the hash covers base64(canonical JSON) of payload.
func evidenceFor(t *testing.T, pr x402.PaymentRequirements, payload map[string]any, paymentHeader string) *Evidence {
	t.Helper()

	origin := sha256.Sum256([]byte("https://merchant.example.com"))

	var paymentHash []byte
	if paymentHeader != "" {
		paymentHash = crypto.Keccak256([]byte(paymentHeader))
	} else {
		b64, err := x402.CanonicalBase64(payload)
		if err != nil {
			t.Fatalf("CanonicalBase64: %v", err)
		}
		paymentHash = crypto.Keccak256([]byte(b64))
	}

	return &Evidence{
		V:           1,
		PaymentHash: "0x" + hex.EncodeToString(paymentHash),
		Resource:    pr.Resource,
		OriginHash:  "0x" + hex.EncodeToString(origin[:]),
		Network:     pr.Network,
		Asset:       pr.Asset,
		PayTo:       pr.PayTo,
		IntentUID:   "0xdeadbeef",
		TraceUID:    "0xfeedface",
	}
}

func encodeEvidence(t *testing.T, ev *Evidence) string {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal evidence: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func wantCheckError(t *testing.T, err error, code apperrors.ErrorCode, message string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var ce *CheckError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CheckError, got %T: %v", err, err)
	}
	if ce.Code != code {
		t.Errorf("code = %s, want %s", ce.Code, code)
	}
	if message != "" && ce.Message != message {
		t.Errorf("message = %q, want %q", ce.Message, message)
	}
}

func TestVerify_Valid(t *testing.T) {
	v := newTestVerifier()
	pr := testRequirements()
	payload := testPayload(testPayer)
	ev := evidenceFor(t, pr, payload, "")

	got, err := v.Verify(VerifyInput{
		Requirements:   pr,
		Payload:        payload,
		EvidenceHeader: encodeEvidence(t, ev),
	})
	if err != nil {
		t.Fatalf("Verify() = %v, want nil", err)
	}
	if got == nil {
		t.Fatal("Verify() returned nil evidence on success")
	}
	if got.IntentUID != ev.IntentUID || got.TraceUID != ev.TraceUID {
		t.Errorf("returned evidence = %+v, want UIDs from %+v", got, ev)
	}
}

func TestVerifyIfPresent(t *testing.T) {
	v := newTestVerifier()
	pr := testRequirements()
	payload := testPayload(testPayer)

	t.Run("no evidence and no policy skips", func(t *testing.T) {
		ev, err := v.VerifyIfPresent(VerifyInput{Requirements: pr, Payload: payload})
		if err != nil {
			t.Fatalf("VerifyIfPresent() = %v, want nil", err)
		}
		if ev != nil {
			t.Errorf("evidence = %+v, want nil", ev)
		}
	})

	t.Run("policy demanding mandates rejects missing evidence", func(t *testing.T) {
		demanding := pr
		demanding.Extra = map[string]any{
			"name":    "USDC",
			"version": "2",
			"ap2":     map[string]any{"requireIntentMandate": true},
		}
		_, err := v.VerifyIfPresent(VerifyInput{Requirements: demanding, Payload: payload})
		wantCheckError(t, err, apperrors.ErrCodeAP2EvidenceMissing, "Missing AP2 evidence")
	})

	t.Run("evidence triggers the chain without policy", func(t *testing.T) {
		ev := evidenceFor(t, pr, payload, "")
		got, err := v.VerifyIfPresent(VerifyInput{
			Requirements: pr,
			Payload:      payload,
			EvidenceBody: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("VerifyIfPresent() = %v, want nil", err)
		}
		if got == nil {
			t.Fatal("VerifyIfPresent() returned nil evidence on success")
		}
	})

	t.Run("malformed policy is fatal without evidence", func(t *testing.T) {
		malformed := pr
		malformed.Extra = map[string]any{"ap2": "not an object"}
		_, err := v.VerifyIfPresent(VerifyInput{Requirements: malformed, Payload: payload})
		wantCheckError(t, err, apperrors.ErrCodeUnspecified, "")
	})
}

func TestVerify_EvidenceDecoding(t *testing.T) {
	v := newTestVerifier()
	pr := testRequirements()
	payload := testPayload(testPayer)

	t.Run("missing evidence", func(t *testing.T) {
		_, err := v.Verify(VerifyInput{Requirements: pr, Payload: payload})
		wantCheckError(t, err, apperrors.ErrCodeAP2EvidenceMissing, "Missing AP2 evidence")
	})

	t.Run("undecodable evidence", func(t *testing.T) {
		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: "!!!not-base64!!!",
		})
		wantCheckError(t, err, apperrors.ErrCodeAP2EvidenceInvalid, "")
	})

	t.Run("missing required field", func(t *testing.T) {
		ev := evidenceFor(t, pr, payload, "")
		ev.PaymentHash = ""
		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		wantCheckError(t, err, apperrors.ErrCodeAP2EvidenceInvalid, "")
	})

	t.Run("body field used when header absent", func(t *testing.T) {
		ev := evidenceFor(t, pr, payload, "")
		_, err := v.Verify(VerifyInput{
			Requirements: pr,
			Payload:      payload,
			EvidenceBody: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() with body evidence = %v, want nil", err)
		}
	})

	t.Run("header wins over body", func(t *testing.T) {
		ev := evidenceFor(t, pr, payload, "")
		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
			EvidenceBody:   "garbage that would fail",
		})
		if err != nil {
			t.Fatalf("Verify() should use header evidence, got %v", err)
		}
	})
}

func TestVerify_PolicyFlags(t *testing.T) {
	v := newTestVerifier()
	payload := testPayload(testPayer)

	tests := []struct {
		name    string
		policy  map[string]any
		mutate  func(*Evidence)
		wantMsg string
	}{
		{
			name:    "intent mandate required",
			policy:  map[string]any{"requireIntentMandate": true},
			mutate:  func(ev *Evidence) { ev.IntentUID = "" },
			wantMsg: "AP2: intent_uid required",
		},
		{
			name:    "cart mandate required",
			policy:  map[string]any{"requireCartMandate": true},
			mutate:  func(ev *Evidence) { ev.CartUID = "" },
			wantMsg: "AP2: cart_uid required",
		},
		{
			name:    "payment mandate required",
			policy:  map[string]any{"requirePaymentMandate": true},
			mutate:  func(ev *Evidence) { ev.PaymentUID = "" },
			wantMsg: "AP2: payment_uid required",
		},
		{
			name:    "trace required",
			policy:  map[string]any{"requireTrace": true},
			mutate:  func(ev *Evidence) { ev.TraceUID = "" },
			wantMsg: "AP2: trace_uid required",
		},
		{
			name:    "satisfied policy passes",
			policy:  map[string]any{"requireIntentMandate": true, "requireTrace": true},
			mutate:  func(ev *Evidence) {},
			wantMsg: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := testRequirements()
			pr.Extra["ap2"] = tt.policy
			ev := evidenceFor(t, pr, payload, "")
			tt.mutate(ev)

			_, err := v.Verify(VerifyInput{
				Requirements:   pr,
				Payload:        payload,
				EvidenceHeader: encodeEvidence(t, ev),
			})
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Verify() = %v, want nil", err)
				}
				return
			}
			wantCheckError(t, err, apperrors.ErrCodeUnspecified, tt.wantMsg)
		})
	}
}

func TestVerify_PolicyUnderAlternateKey(t *testing.T) {
	v := newTestVerifier()
	payload := testPayload(testPayer)

	pr := testRequirements()
	pr.Extra["ap2-evidence"] = map[string]any{"requireCartMandate": true}
	ev := evidenceFor(t, pr, payload, "")

	_, err := v.Verify(VerifyInput{
		Requirements:   pr,
		Payload:        payload,
		EvidenceHeader: encodeEvidence(t, ev),
	})
	wantCheckError(t, err, apperrors.ErrCodeUnspecified, "AP2: cart_uid required")
}

func TestVerify_Congruence(t *testing.T) {
	v := newTestVerifier()
	payload := testPayload(testPayer)

	tests := []struct {
		name     string
		mutate   func(*Evidence)
		wantCode apperrors.ErrorCode
		wantMsg  string
	}{
		{
			name:     "resource mismatch",
			mutate:   func(ev *Evidence) { ev.Resource = "https://merchant.example.com/other" },
			wantCode: apperrors.ErrCodeAP2ResourceMismatch,
			wantMsg:  "AP2: resource mismatch",
		},
		{
			name:     "network mismatch",
			mutate:   func(ev *Evidence) { ev.Network = "base" },
			wantCode: apperrors.ErrCodeAP2NetworkMismatch,
			wantMsg:  "AP2: network mismatch",
		},
		{
			name:     "payTo mismatch",
			mutate:   func(ev *Evidence) { ev.PayTo = "0x4444444444444444444444444444444444444444" },
			wantCode: apperrors.ErrCodeAP2PayToMismatch,
			wantMsg:  "AP2: payTo mismatch",
		},
		{
			name:     "asset mismatch",
			mutate:   func(ev *Evidence) { ev.Asset = "0x5555555555555555555555555555555555555555" },
			wantCode: apperrors.ErrCodeAP2AssetMismatch,
			wantMsg:  "AP2: asset mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := testRequirements()
			ev := evidenceFor(t, pr, payload, "")
			tt.mutate(ev)

			_, err := v.Verify(VerifyInput{
				Requirements:   pr,
				Payload:        payload,
				EvidenceHeader: encodeEvidence(t, ev),
			})
			wantCheckError(t, err, tt.wantCode, tt.wantMsg)
		})
	}

	t.Run("payTo compares case-insensitively", func(t *testing.T) {
		pr := testRequirements()
		pr.PayTo = "0xAbCdEf1111111111111111111111111111111111"
		ev := evidenceFor(t, pr, payload, "")
		ev.PayTo = "0xabcdef1111111111111111111111111111111111"

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})

	t.Run("asset check skipped when requirements omit asset", func(t *testing.T) {
		pr := testRequirements()
		pr.Asset = ""
		ev := evidenceFor(t, pr, payload, "")
		ev.Asset = testAsset

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})
}

func TestVerify_TTL(t *testing.T) {
	v := newTestVerifier()
	payload := testPayload(testPayer)
	now := time.Now().Unix()

	tests := []struct {
		name     string
		mutate   func(*Evidence)
		wantCode apperrors.ErrorCode
		wantMsg  string
	}{
		{
			name:     "notBefore in the future",
			mutate:   func(ev *Evidence) { ev.NotBefore = now + 3600 },
			wantCode: apperrors.ErrCodeAP2TTLNotBefore,
			wantMsg:  "AP2: notBefore not reached",
		},
		{
			name:     "notAfter in the past",
			mutate:   func(ev *Evidence) { ev.NotAfter = now - 3600 },
			wantCode: apperrors.ErrCodeAP2TTLExpired,
			wantMsg:  "AP2: notAfter passed",
		},
		{
			name:     "exp in the past",
			mutate:   func(ev *Evidence) { ev.Exp = time.Unix(now-3600, 0).UTC().Format(time.RFC3339) },
			wantCode: apperrors.ErrCodeAP2TTLExpired,
			wantMsg:  "AP2: exp passed",
		},
		{
			name: "open window passes",
			mutate: func(ev *Evidence) {
				ev.NotBefore = now - 60
				ev.NotAfter = now + 3600
				ev.Exp = time.Unix(now+3600, 0).UTC().Format(time.RFC3339)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := testRequirements()
			ev := evidenceFor(t, pr, payload, "")
			tt.mutate(ev)

			_, err := v.Verify(VerifyInput{
				Requirements:   pr,
				Payload:        payload,
				EvidenceHeader: encodeEvidence(t, ev),
			})
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("Verify() = %v, want nil", err)
				}
				return
			}
			wantCheckError(t, err, tt.wantCode, tt.wantMsg)
		})
	}
}

func TestVerify_OriginBinding(t *testing.T) {
	v := newTestVerifier()
	payload := testPayload(testPayer)

	t.Run("single character perturbation fails", func(t *testing.T) {
		pr := testRequirements()
		ev := evidenceFor(t, pr, payload, "")
		// Hash computed over a near-identical origin
		perturbed := sha256.Sum256([]byte("https://merchant.example.con"))
		ev.OriginHash = "0x" + hex.EncodeToString(perturbed[:])

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		wantCheckError(t, err, apperrors.ErrCodeAP2OriginMismatch, "AP2: originHash mismatch")
	})

	t.Run("origin header overrides resource derivation", func(t *testing.T) {
		pr := testRequirements()
		ev := evidenceFor(t, pr, payload, "")
		other := sha256.Sum256([]byte("https://app.example.org"))
		ev.OriginHash = "0x" + hex.EncodeToString(other[:])

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			OriginHeader:   "https://app.example.org",
			EvidenceHeader: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})

	t.Run("origin normalizes case and whitespace", func(t *testing.T) {
		pr := testRequirements()
		ev := evidenceFor(t, pr, payload, "")

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			OriginHeader:   "  HTTPS://Merchant.Example.COM  ",
			EvidenceHeader: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})
}

func TestVerify_PaymentHashBinding(t *testing.T) {
	v := newTestVerifier()

	t.Run("key order does not change the canonical hash", func(t *testing.T) {
		pr := testRequirements()
		payload := testPayload(testPayer)
		ev := evidenceFor(t, pr, payload, "")

		// Same content assembled in a different insertion order
		reordered := map[string]any{
			"payload": map[string]any{
				"authorization": map[string]any{
					"value": "5000",
					"to":    testPayTo,
					"from":  testPayer,
				},
				"signature": "0xsig",
			},
			"network":     "base-sepolia",
			"scheme":      "exact",
			"x402Version": float64(1),
		}

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        reordered,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})

	t.Run("content change fails", func(t *testing.T) {
		pr := testRequirements()
		payload := testPayload(testPayer)
		ev := evidenceFor(t, pr, payload, "")

		tampered := testPayload(testPayer)
		tampered["payload"].(map[string]any)["authorization"].(map[string]any)["value"] = "5001"

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        tampered,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		wantCheckError(t, err, apperrors.ErrCodeAP2PaymentHashMismatch, "AP2: paymentHash mismatch")
	})

	t.Run("header path hashes the verbatim header", func(t *testing.T) {
		pr := testRequirements()
		// Spaced JSON so the verbatim header differs from the canonical form.
		raw := `{"x402Version": 1, "scheme": "exact", "network": "base-sepolia", ` +
			`"payload": {"signature": "0xsig", "authorization": ` +
			`{"from": "` + testPayer + `", "to": "` + testPayTo + `", "value": "5000"}}}`
		header := base64.StdEncoding.EncodeToString([]byte(raw))

		var payload map[string]any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		ev := evidenceFor(t, pr, payload, header)

		if _, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			PaymentHeader:  header,
			EvidenceHeader: encodeEvidence(t, ev),
		}); err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}

		// Without the header the canonical form is hashed instead, and its
		// compact layout diverges from the spaced header text.
		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		wantCheckError(t, err, apperrors.ErrCodeAP2PaymentHashMismatch, "AP2: paymentHash mismatch")
	})
}

func TestVerify_MerchantIdentity(t *testing.T) {
	v := newTestVerifier()
	payload := testPayload(testPayer)

	tests := []struct {
		name     string
		accepted []string
		wantDeny bool
	}{
		{
			name:     "host match",
			accepted: []string{"did:web:merchant.example.com"},
		},
		{
			name:     "second entry matches",
			accepted: []string{"did:web:other.example.com", "did:web:merchant.example.com"},
		},
		{
			name:     "case-insensitive match",
			accepted: []string{"did:web:MERCHANT.Example.Com"},
		},
		{
			name:     "no did:web entries",
			accepted: []string{"https://merchant.example.com"},
			wantDeny: true,
		},
		{
			name:     "host mismatch",
			accepted: []string{"did:web:evil.example.com"},
			wantDeny: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := testRequirements()
			pr.Extra["ap2"] = map[string]any{"acceptedMerchantIds": tt.accepted}
			ev := evidenceFor(t, pr, payload, "")

			_, err := v.Verify(VerifyInput{
				Requirements:   pr,
				Payload:        payload,
				EvidenceHeader: encodeEvidence(t, ev),
			})
			if tt.wantDeny {
				wantCheckError(t, err, apperrors.ErrCodeAP2MerchantDenied, "AP2: merchant identity not accepted")
				return
			}
			if err != nil {
				t.Fatalf("Verify() = %v, want nil", err)
			}
		})
	}

	t.Run("port stripped from resource host", func(t *testing.T) {
		pr := testRequirements()
		pr.Resource = "https://merchant.example.com:8443/premium"
		pr.Extra["ap2"] = map[string]any{"acceptedMerchantIds": []string{"did:web:merchant.example.com"}}
		ev := evidenceFor(t, pr, payload, "")
		origin := sha256.Sum256([]byte("https://merchant.example.com:8443"))
		ev.OriginHash = "0x" + hex.EncodeToString(origin[:])

		_, err := v.Verify(VerifyInput{
			Requirements:   pr,
			Payload:        payload,
			EvidenceHeader: encodeEvidence(t, ev),
		})
		if err != nil {
			t.Fatalf("Verify() = %v, want nil", err)
		}
	})
}

func TestExtractPayer(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "payload.authorization.from",
			payload: testPayload("0xAAA0000000000000000000000000000000000001"),
			want:    "0xAAA0000000000000000000000000000000000001",
		},
		{
			name: "payload.from",
			payload: map[string]any{
				"payload": map[string]any{"from": "0xBBB"},
			},
			want: "0xBBB",
		},
		{
			name: "authorization.from",
			payload: map[string]any{
				"authorization": map[string]any{"from": "0xCCC"},
			},
			want: "0xCCC",
		},
		{
			name:    "top-level from",
			payload: map[string]any{"from": "0xDDD"},
			want:    "0xDDD",
		},
		{
			name:    "payer fallback",
			payload: map[string]any{"payer": "0xEEE"},
			want:    "0xEEE",
		},
		{
			name:    "nothing found",
			payload: map[string]any{"foo": "bar"},
			want:    "",
		},
		{
			name: "non-string value skipped",
			payload: map[string]any{
				"from":  float64(42),
				"payer": "0xFFF",
			},
			want: "0xFFF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPayer(tt.payload); got != tt.want {
				t.Errorf("ExtractPayer() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerify_AmountEnforcement(t *testing.T) {
	v := newTestVerifier()

	tests := []struct {
		name      string
		value     any
		maxAmount string
		wantErr   bool
	}{
		{name: "within limit", value: "5000", maxAmount: "10000"},
		{name: "at limit", value: "10000", maxAmount: "10000"},
		{name: "over limit", value: "10001", maxAmount: "10000", wantErr: true},
		{name: "numeric value over limit", value: float64(20000), maxAmount: "10000", wantErr: true},
		{name: "non-integer max skips check", value: "99999", maxAmount: "lots"},
		{name: "absent max skips check", value: "99999", maxAmount: ""},
		{name: "non-integer value skips check", value: "not-a-number", maxAmount: "10000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := testRequirements()
			pr.MaxAmountRequired = tt.maxAmount
			payload := testPayload(testPayer)
			payload["payload"].(map[string]any)["authorization"].(map[string]any)["value"] = tt.value
			ev := evidenceFor(t, pr, payload, "")

			_, err := v.Verify(VerifyInput{
				Requirements:   pr,
				Payload:        payload,
				EvidenceHeader: encodeEvidence(t, ev),
			})
			if tt.wantErr {
				wantCheckError(t, err, apperrors.ErrCodeUnspecified, "Amount exceeds maxAmountRequired")
				return
			}
			if err != nil {
				t.Fatalf("Verify() = %v, want nil", err)
			}
		})
	}
}

func TestDecodeBytes32(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantHex string
		wantErr bool
	}{
		{
			name:    "full width with prefix",
			input:   "0xab00112233445566778899aabbccddeeff00112233445566778899aabbccddee",
			wantHex: "ab00112233445566778899aabbccddeeff00112233445566778899aabbccddee",
		},
		{
			name:    "short input left-pads",
			input:   "0xdeadbeef",
			wantHex: "00000000000000000000000000000000000000000000000000000000deadbeef",
		},
		{
			name:    "no prefix accepted",
			input:   "ff",
			wantHex: "00000000000000000000000000000000000000000000000000000000000000ff",
		},
		{name: "invalid hex", input: "0xzz", wantErr: true},
		{name: "too long", input: "0x" + "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff" + "00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBytes32(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeBytes32(%q) = %x, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeBytes32(%q) error: %v", tt.input, err)
			}
			if hex.EncodeToString(got[:]) != tt.wantHex {
				t.Errorf("decodeBytes32(%q) = %x, want %s", tt.input, got, tt.wantHex)
			}
		})
	}
}
