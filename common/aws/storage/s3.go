package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.KeyValueRepository = &S3Store{}

// archivePrefix keeps archived events apart from anything else in a shared bucket.
const archivePrefix = "commitments"

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store archives JSON documents, one object per key.
type S3Store struct {
	client objectPutter
	logger models.Logger
	bucket string
}

func NewS3Store(logger models.Logger, client objectPutter, bucket string) *S3Store {
	return &S3Store{client, logger, bucket}
}

func (s *S3Store) Store(ctx context.Context, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("archive: error encoding %s: %w", key, err)
	}
	objectKey := path.Join(archivePrefix, key)

	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if _, err = s.client.PutObject(httpCtx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(body),
		ContentLength: int64(len(body)),
		ContentType:   aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("archive: error storing %s/%s: %w", s.bucket, objectKey, err)
	}
	s.logger.Debugf("archive: stored %s/%s", s.bucket, objectKey)
	return nil
}
