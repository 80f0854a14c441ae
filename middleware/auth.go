package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/breez/data-store/config"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/tv42/zbase32"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

type contextKey string

const (
	USER_PUBKEY_CONTEXT_KEY contextKey = "user_pubkey"

	RequestTimeHeader = "x-request-time"
	SignatureHeader   = "x-signature"
)

var ErrInternalError = fmt.Errorf("internal error")
var ErrInvalidSignature = fmt.Errorf("invalid signature")
var SignedMsgPrefix = []byte("docstore:")

func checkApiKey(config *config.Config, md metadata.MD) error {
	authHeaders := md.Get("Authorization")
	if len(authHeaders) == 0 {
		return fmt.Errorf("Missing auth header")
	}
	authHeader := authHeaders[0]
	if len(authHeader) <= 7 || !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("Invalid auth header")
	}

	apiKey := authHeader[7:]
	block, err := base64.StdEncoding.DecodeString(apiKey)
	if err != nil {
		return fmt.Errorf("Could not decode auth header: %v", err)
	}

	cert, err := x509.ParseCertificate(block)
	if err != nil {
		return fmt.Errorf("Could not parse certificate: %v", err)
	}

	rootPool := x509.NewCertPool()
	rootPool.AddCert(config.CACert.Raw)

	chains, err := cert.Verify(x509.VerifyOptions{
		Roots: rootPool,
	})
	if err != nil {
		return fmt.Errorf("Certificate verification error: %v", err)
	}
	if len(chains) != 1 || len(chains[0]) != 2 || !chains[0][0].Equal(cert) || !chains[0][1].Equal(config.CACert.Raw) {
		return fmt.Errorf("Certificate verification error: invalid chain of trust")
	}

	return nil
}

// Authenticate recovers the caller's public key from the request signature
// and stores it in the returned context. The bearer api key is checked only
// when a CA certificate is configured.
func Authenticate(config *config.Config, ctx context.Context, method string, req proto.Message) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, fmt.Errorf("Could not read request metadata")
	}
	if config.CACert != nil {
		if err := checkApiKey(config, md); err != nil {
			return nil, err
		}
	}

	requestTime := md.Get(RequestTimeHeader)
	signature := md.Get(SignatureHeader)
	if len(requestTime) == 0 || len(signature) == 0 {
		return nil, ErrInvalidSignature
	}
	toVerify, err := SignRequest(method, req, requestTime[0])
	if err != nil {
		return nil, err
	}

	pubkey, err := VerifyMessage([]byte(toVerify), signature[0])
	if err != nil {
		return nil, err
	}

	pubkeyBytes := pubkey.SerializeCompressed()
	newContext := context.WithValue(ctx, USER_PUBKEY_CONTEXT_KEY, hex.EncodeToString(pubkeyBytes))
	return newContext, nil
}

// UnaryAuthInterceptor authenticates every unary call before its handler
// runs.
func UnaryAuthInterceptor(config *config.Config) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		msg, ok := req.(proto.Message)
		if !ok {
			return nil, status.Error(codes.Internal, ErrInternalError.Error())
		}
		c, err := Authenticate(config, ctx, info.FullMethod, msg)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(c, req)
	}
}

// SignRequest returns the text a client signs for a call: the full method,
// the hex of the deterministic request encoding and the request time.
func SignRequest(method string, req proto.Message, requestTime string) (string, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %v", err)
	}
	return fmt.Sprintf("%v-%x-%v", method, data, requestTime), nil
}

// Pubkey returns the hex encoded public key of an authenticated caller.
func Pubkey(ctx context.Context) (string, bool) {
	pubkey, ok := ctx.Value(USER_PUBKEY_CONTEXT_KEY).(string)
	return pubkey, ok
}

func SignMessage(key *btcec.PrivateKey, msg []byte) (string, error) {
	message := append(append([]byte{}, SignedMsgPrefix...), msg...)
	digest := chainhash.DoubleHashB(message)
	signture, err := ecdsa.SignCompact(key, digest, true)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %v", err)
	}
	sig := zbase32.EncodeToString(signture)
	return sig, nil
}

func VerifyMessage(message []byte, signature string) (*btcec.PublicKey, error) {
	// The signature should be zbase32 encoded
	sig, err := zbase32.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %v", err)
	}

	msg := append(append([]byte{}, SignedMsgPrefix...), message...)
	first := sha256.Sum256(msg)
	second := sha256.Sum256(first[:])
	pubkey, wasCompressed, err := ecdsa.RecoverCompact(
		sig,
		second[:],
	)
	if err != nil {
		return nil, ErrInvalidSignature
	}

	if !wasCompressed {
		return nil, ErrInvalidSignature
	}

	return pubkey, nil
}
