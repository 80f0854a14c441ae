package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/breez/data-store/config"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const testMethod = "/docstore.DocStore/Find"

func TestSignVerify(t *testing.T) {
	privateKey, err := btcec.NewPrivateKey()
	require.NoError(t, err, "failed to create private key")
	pubkey := privateKey.PubKey().SerializeCompressed()
	message := []byte("test message")
	signature, err := SignMessage(privateKey, message)
	require.NoError(t, err, "failed to sign message")
	recoveredKey, err := VerifyMessage(message, signature)
	require.NoError(t, err, "failed to verify message")
	require.Equal(t, recoveredKey.SerializeCompressed(), pubkey)
}

func signedContext(t *testing.T, key *btcec.PrivateKey, method string, req proto.Message, extra ...string) context.Context {
	requestTime := strconv.FormatInt(time.Now().Unix(), 10)
	toSign, err := SignRequest(method, req, requestTime)
	require.NoError(t, err, "failed to build signed text")
	signature, err := SignMessage(key, []byte(toSign))
	require.NoError(t, err, "failed to sign request")
	md := metadata.Pairs(append([]string{RequestTimeHeader, requestTime, SignatureHeader, signature}, extra...)...)
	return metadata.NewIncomingContext(context.Background(), md)
}

func findRequest(t *testing.T) *structpb.Struct {
	req, err := structpb.NewStruct(map[string]interface{}{"path": "people.json"})
	require.NoError(t, err)
	return req
}

func TestAuthenticate(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	cfg := &config.Config{}
	req := findRequest(t)

	ctx, err := Authenticate(cfg, signedContext(t, key, testMethod, req), testMethod, req)
	require.NoError(t, err)
	pubkey, ok := Pubkey(ctx)
	require.True(t, ok)
	require.Equal(t, hex.EncodeToString(key.PubKey().SerializeCompressed()), pubkey)

	// the signature covers the method and the request body
	other, err := Authenticate(cfg, signedContext(t, key, testMethod, req), "/docstore.DocStore/Insert", req)
	if err == nil {
		recovered, _ := Pubkey(other)
		require.NotEqual(t, pubkey, recovered)
	}

	_, err = Authenticate(cfg, metadata.NewIncomingContext(context.Background(), metadata.MD{}), testMethod, req)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = Authenticate(cfg, context.Background(), testMethod, req)
	require.Error(t, err)
}

func TestUnaryAuthInterceptor(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	interceptor := UnaryAuthInterceptor(&config.Config{})
	req := findRequest(t)
	info := &grpc.UnaryServerInfo{FullMethod: testMethod}

	var seen string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		seen, _ = Pubkey(ctx)
		return req, nil
	}
	_, err = interceptor(signedContext(t, key, testMethod, req), req, info, handler)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(key.PubKey().SerializeCompressed()), seen)

	_, err = interceptor(metadata.NewIncomingContext(context.Background(), metadata.MD{}), req, info, handler)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func newTestCA(t *testing.T) testCA {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "docstore ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return testCA{cert: cert, key: key}
}

func (ca testCA) issue(t *testing.T) string {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "docstore client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	return "Bearer " + base64.StdEncoding.EncodeToString(der)
}

func TestAuthenticateWithApiKey(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	ca := newTestCA(t)
	cfg := &config.Config{CACert: &config.Certificate{Raw: ca.cert}}
	req := findRequest(t)

	_, err = Authenticate(cfg, signedContext(t, key, testMethod, req, "authorization", ca.issue(t)), testMethod, req)
	require.NoError(t, err)

	_, err = Authenticate(cfg, signedContext(t, key, testMethod, req), testMethod, req)
	require.Error(t, err)

	stranger := newTestCA(t)
	_, err = Authenticate(cfg, signedContext(t, key, testMethod, req, "authorization", stranger.issue(t)), testMethod, req)
	require.Error(t, err)
}
