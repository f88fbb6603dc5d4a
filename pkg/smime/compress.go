package smime

import (
	"crypto/x509/pkix"
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-as2/pkg/compression"
	"github.com/sirosfoundation/go-as2/pkg/message"
	"github.com/sirosfoundation/go-as2/pkg/mime"
)

// Compress wraps e in a CMS CompressedData entity (RFC 3274).
func (p *Provider) Compress(e *mime.Entity, algorithm string) (*mime.Entity, error) {
	alg, err := message.NormalizeCompression(algorithm)
	if err != nil {
		return nil, err
	}

	data, err := p.compressor.Compress(e.Bytes())
	if err != nil {
		return nil, err
	}

	der, err := marshalContentInfo(oidCompressedData, compressedData{
		Version:              0,
		CompressionAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidZlib},
		EncapContentInfo:     encapsulatedContentInfo{EContentType: oidData, EContent: data},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s compressed data: %w", alg, err)
	}
	return pkcs7MimeEntity(SMIMETypeCompressed, "smime.p7z", der), nil
}

// Decompress opens a compressed-data entity and returns the inner entity.
func (p *Provider) Decompress(e *mime.Entity) (*mime.Entity, error) {
	if !p.IsCompressed(e) {
		return nil, fmt.Errorf("%w: entity is not compressed data", message.ErrIntegrity)
	}

	body, err := e.DecodedBody()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}
	var cd compressedData
	if err := unmarshalContentInfo(body, oidCompressedData, &cd); err != nil {
		return nil, fmt.Errorf("%w: malformed compressed data: %v", message.ErrIntegrity, err)
	}
	if !cd.CompressionAlgorithm.Algorithm.Equal(oidZlib) {
		return nil, fmt.Errorf("%w: unsupported compression algorithm %s", message.ErrIntegrity, cd.CompressionAlgorithm.Algorithm)
	}

	data, err := p.compressor.Decompress(cd.EncapContentInfo.EContent)
	if errors.Is(err, compression.ErrTooLarge) {
		return nil, fmt.Errorf("%w: %v", message.ErrPolicyViolation, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}

	inner, err := mime.ParseEntity(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrIntegrity, err)
	}
	return inner, nil
}
