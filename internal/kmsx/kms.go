// Package kmsx wraps AWS KMS as the envelope-encryption layer for level-2
// and level-3 fields.
//
// Encryption names a key alias; decryption does not, because a KMS
// ciphertext blob carries the identity of the key that produced it. The key
// material itself never leaves KMS, which is what lets crypto-shredding work:
// dropping the metadata that binds a ciphertext to its alias and key version
// is enough to make it unrecoverable.
package kmsx

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/piivault/piivault/internal/common"
	"github.com/piivault/piivault/internal/logging"
)

// Key aliases for the two encrypted tiers.
const (
	DefaultLevel2Alias = "alias/pii-level2"
	DefaultLevel3Alias = "alias/pii-level3"
)

// API is the subset of the KMS client used by the service.
type API interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// Service performs envelope encrypt/decrypt calls against KMS.
type Service struct {
	client API
	logger logging.Logger
}

func NewService(client API, logger logging.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// Encrypt encrypts plaintext under the key identified by alias and returns
// the raw ciphertext blob.
func (s *Service) Encrypt(ctx context.Context, alias string, plaintext []byte) ([]byte, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(alias),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kms encrypt with %s: %v", common.ErrEncryption, alias, err)
	}

	s.logger.Debug(ctx, "envelope encrypted", "alias", alias, "bytes", len(out.CiphertextBlob))
	return out.CiphertextBlob, nil
}

// Decrypt decrypts a ciphertext blob. KMS resolves the key from the blob, so
// no alias is needed.
func (s *Service) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: kms decrypt: %v", common.ErrDecryption, err)
	}

	return out.Plaintext, nil
}

// Check probes KMS reachability and key existence via DescribeKey.
func (s *Service) Check(ctx context.Context, alias string) error {
	_, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(alias),
	})
	if err != nil {
		return fmt.Errorf("kms describe %s: %w", alias, err)
	}
	return nil
}
