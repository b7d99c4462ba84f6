package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudfuse-io/buzz-go/internal/model"
)

// S3ListAPI is the subset of the S3 client S3PrefixTable calls.
type S3ListAPI interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3PrefixTable is a catalog.SplittableTable over every object under
// one S3 prefix, with Hive-style key=value partition directories (spec
// §4.1's catalog.split source, for main_fuse_aws).
type S3PrefixTable struct {
	client        S3ListAPI
	bucket        string
	prefix        string
	schema        *arrow.Schema
	partitionCols []string
}

// NewS3PrefixTable loads the default AWS config for region.
func NewS3PrefixTable(ctx context.Context, region, bucket, prefix string, schema *arrow.Schema, partitionCols []string) (*S3PrefixTable, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &S3PrefixTable{
		client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix,
		schema: schema, partitionCols: partitionCols,
	}, nil
}

// NewS3PrefixTableWithClient wraps an already-configured client,
// primarily for tests.
func NewS3PrefixTableWithClient(client S3ListAPI, bucket, prefix string, schema *arrow.Schema, partitionCols []string) *S3PrefixTable {
	return &S3PrefixTable{client: client, bucket: bucket, prefix: prefix, schema: schema, partitionCols: partitionCols}
}

func (t *S3PrefixTable) Entries() []model.CatalogEntry {
	var entries []model.CatalogEntry
	var token *string
	ctx := context.Background()
	for {
		out, err := t.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(t.bucket),
			Prefix:            aws.String(t.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return entries
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			entries = append(entries, model.CatalogEntry{
				File:            model.SizedFile{Key: key, Length: uint64(aws.ToInt64(obj.Size))},
				PartitionValues: hivePartitionValues(key, t.partitionCols),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return entries
		}
		token = out.NextContinuationToken
	}
}

func (t *S3PrefixTable) PartitionColumns() []string { return t.partitionCols }
func (t *S3PrefixTable) RowSchema() *arrow.Schema   { return t.schema }

func (t *S3PrefixTable) Split(files []model.SizedFile) ([]model.HBeeTableDesc, error) {
	out := make([]model.HBeeTableDesc, len(files))
	for i, f := range files {
		out[i] = model.HBeeTableDesc{Bucket: t.bucket, Files: []model.SizedFile{f}, Schema: t.schema}
	}
	return out, nil
}

// hivePartitionValues extracts "col=value" path segments from key, in
// the order partitionCols names them.
func hivePartitionValues(key string, partitionCols []string) []string {
	if len(partitionCols) == 0 {
		return nil
	}
	found := make(map[string]string, len(partitionCols))
	for _, segment := range strings.Split(key, "/") {
		name, value, ok := strings.Cut(segment, "=")
		if ok {
			found[name] = value
		}
	}
	values := make([]string, len(partitionCols))
	for i, col := range partitionCols {
		values[i] = found[col]
	}
	return values
}
