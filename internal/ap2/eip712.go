package ap2

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	apperrors "github.com/x402secure/gateway/internal/errors"
	"github.com/x402secure/gateway/pkg/x402"
)

// evidenceTypes is the EIP-712 type set the buyer's wallet signs. Field
// order matches the on-chain Evidence struct.
var evidenceTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Evidence": {
		{Name: "paymentHash", Type: "bytes32"},
		{Name: "resource", Type: "string"},
		{Name: "originHash", Type: "bytes32"},
		{Name: "network", Type: "string"},
		{Name: "asset", Type: "address"},
		{Name: "payTo", Type: "address"},
		{Name: "intent_uid", Type: "bytes32"},
		{Name: "cart_uid", Type: "bytes32"},
		{Name: "payment_uid", Type: "bytes32"},
		{Name: "trace_uid", Type: "bytes32"},
		{Name: "notBefore", Type: "uint64"},
		{Name: "notAfter", Type: "uint64"},
	},
}

// verifySignature recovers the EIP-712 signer and requires it to equal the
// paying address. Evidence without a signature passes; the signature is an
// optional strengthening.
func (v *Verifier) verifySignature(ev *Evidence, pr x402.PaymentRequirements, payer string) error {
	if ev.Sig == "" {
		return nil
	}

	chainID, ok := v.chainIDs[pr.Network]
	if !ok || chainID == 0 {
		return failed(apperrors.ErrCodeAP2ChainUnsupported, fmt.Sprintf(
			"Unsupported network: %s. Configure PROXY_NETWORK_CHAIN_MAP to include '%s:<chainId>' or omit EIP-712 signature.",
			pr.Network, pr.Network))
	}

	digest, err := evidenceDigest(ev, chainID)
	if err != nil {
		return failed(apperrors.ErrCodeAP2SigInvalid,
			fmt.Sprintf("AP2: EIP-712 signature invalid: %v", err))
	}

	recovered, err := recoverSigner(digest, ev.Sig)
	if err != nil {
		return failed(apperrors.ErrCodeAP2SigInvalid,
			fmt.Sprintf("AP2: EIP-712 signature invalid: %v", err))
	}
	if !strings.EqualFold(recovered, payer) {
		return failed(apperrors.ErrCodeAP2SigPayerMismatch, "AP2: signer != payer")
	}
	return nil
}

// evidenceDigest computes the EIP-712 digest for the Evidence struct:
// keccak256(0x19 0x01 || domainSeparator || hashStruct(Evidence)).
func evidenceDigest(ev *Evidence, chainID int64) ([]byte, error) {
	message, err := evidenceMessage(ev)
	if err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types:       evidenceTypes,
		PrimaryType: "Evidence",
		Domain: apitypes.TypedDataDomain{
			Name:              "AP2Evidence",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: ev.PayTo,
		},
		Message: message,
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// evidenceMessage lays out the signed fields. Absent UIDs are zero-filled
// bytes32 and absent window bounds are zero, so unsigned optional fields
// still hash deterministically.
func evidenceMessage(ev *Evidence) (apitypes.TypedDataMessage, error) {
	paymentHash, err := bytes32Hex(ev.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("paymentHash: %w", err)
	}
	originHash, err := bytes32Hex(ev.OriginHash)
	if err != nil {
		return nil, fmt.Errorf("originHash: %w", err)
	}
	intentUID, err := bytes32Hex(ev.IntentUID)
	if err != nil {
		return nil, fmt.Errorf("intent_uid: %w", err)
	}
	cartUID, err := bytes32Hex(ev.CartUID)
	if err != nil {
		return nil, fmt.Errorf("cart_uid: %w", err)
	}
	paymentUID, err := bytes32Hex(ev.PaymentUID)
	if err != nil {
		return nil, fmt.Errorf("payment_uid: %w", err)
	}
	traceUID, err := bytes32Hex(ev.TraceUID)
	if err != nil {
		return nil, fmt.Errorf("trace_uid: %w", err)
	}

	return apitypes.TypedDataMessage{
		"paymentHash": paymentHash,
		"resource":    ev.Resource,
		"originHash":  originHash,
		"network":     ev.Network,
		"asset":       ev.Asset,
		"payTo":       ev.PayTo,
		"intent_uid":  intentUID,
		"cart_uid":    cartUID,
		"payment_uid": paymentUID,
		"trace_uid":   traceUID,
		"notBefore":   strconv.FormatInt(ev.NotBefore, 10),
		"notAfter":    strconv.FormatInt(ev.NotAfter, 10),
	}, nil
}

// bytes32Hex normalizes a hex string to 0x-prefixed 64 hex chars. Empty
// input becomes the zero value.
func bytes32Hex(s string) (string, error) {
	if s == "" {
		return "0x" + strings.Repeat("00", 32), nil
	}
	b, err := decodeBytes32(s)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}

// recoverSigner performs ECDSA public key recovery over the digest and
// returns the checksummed signer address.
func recoverSigner(digest []byte, sigHex string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	// Wallets emit a recovery id of 27/28; Ecrecover expects 0/1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubkey, err := crypto.Ecrecover(digest, sig)
	if err != nil {
		return "", fmt.Errorf("recover: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return "", fmt.Errorf("parse recovered key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
