package s3proofs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/nomad-xyz/nomad-go/pkg/types"
)

// ProofMirror publishes frozen proofs to an S3 bucket so external
// consumers can process messages without running a prover of their own.
type ProofMirror struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewProofMirror builds a mirror over the configured bucket using the
// ambient AWS credential chain.
func NewProofMirror(ctx context.Context, bucket, region string, logger *zap.Logger) (*ProofMirror, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &ProofMirror{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		logger: logger,
	}, nil
}

// proofDocument is the mirrored JSON shape. Stable: external consumers
// parse it.
type proofDocument struct {
	Leaf  string   `json:"leaf"`
	Index uint64   `json:"index"`
	Path  []string `json:"path"`
}

// Upload writes the proof for a leaf under "proofs/{index}".
func (m *ProofMirror) Upload(ctx context.Context, proof *types.Proof) error {
	doc := proofDocument{
		Leaf:  proof.Leaf.Hex(),
		Index: proof.Index,
		Path:  make([]string, len(proof.Path)),
	}
	for i, node := range proof.Path {
		doc.Path[i] = node.Hex()
	}
	body, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode proof %d: %w", proof.Index, err)
	}

	key := fmt.Sprintf("proofs/%d", proof.Index)
	contentType := "application/json"
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &m.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to mirror proof %d: %w", proof.Index, err)
	}
	m.logger.Sugar().Debugw("Proof mirrored", "bucket", m.bucket, "key", key)
	return nil
}
