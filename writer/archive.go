package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "p2pflow/config"
	"p2pflow/logger"
	"p2pflow/models"
)

// ParquetRecord is the columnar layout of one archived listing record.
type ParquetRecord struct {
	Timestamp      int64   `parquet:"name=timestamp, type=INT64"`
	Side           string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price          float64 `parquet:"name=price, type=DOUBLE"`
	Volume         float64 `parquet:"name=volume, type=DOUBLE"`
	VolumeMin      float64 `parquet:"name=volume_min, type=DOUBLE"`
	VolumeMax      float64 `parquet:"name=volume_max, type=DOUBLE"`
	PaymentMethods string  `parquet:"name=payment_methods, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source         string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// ArchiveWriter mirrors each appended cycle batch to S3 as a Parquet object.
// It is a best-effort secondary sink: a failed archive logs a warning and
// never fails the cycle, since Postgres holds the contractual copy.
type ArchiveWriter struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewArchiveWriter configures the AWS SDK and the S3 client used for
// uploading archive objects.
func NewArchiveWriter(ctx context.Context, cfg *appconfig.Config) (*ArchiveWriter, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archive_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	aw := &ArchiveWriter{
		config:   cfg,
		s3Client: s3.NewFromConfig(awsConfig),
		log:      log,
	}

	log.WithComponent("archive_writer").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
		"prefix": cfg.Storage.S3.Prefix,
	}).Info("archive writer initialized")

	return aw, nil
}

// Archive writes the cycle's accepted records as one Parquet object. Called
// only after the primary append has committed.
func (aw *ArchiveWriter) Archive(ctx context.Context, result *models.CycleResult) error {
	records := result.Records()
	if len(records) == 0 {
		return nil
	}

	key := aw.objectKey(result)
	log := aw.log.WithComponent("archive_writer").WithFields(logger.Fields{
		"batch_id": result.BatchID,
		"records":  len(records),
		"s3_key":   key,
	})

	data, err := aw.createParquetFile(records)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}

	if _, err := aw.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(aw.config.Storage.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return fmt.Errorf("upload archive object: %w", err)
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("cycle batch archived")
	return nil
}

func (aw *ArchiveWriter) objectKey(result *models.CycleResult) string {
	ts := result.Started.UTC()
	key := filepath.Join(
		aw.config.Storage.S3.Prefix,
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("%s_%s.parquet", ts.Format("20060102150405"), result.BatchID),
	)
	return filepath.ToSlash(key)
}

func (aw *ArchiveWriter) createParquetFile(records []models.Record) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		rec := ParquetRecord{
			Timestamp:      r.Timestamp.UnixMilli(),
			Side:           r.Side.Label(),
			Price:          r.Price,
			Volume:         r.Volume,
			PaymentMethods: r.PaymentMethods,
			Source:         r.SourceName,
		}
		if r.VolumeMin != nil {
			rec.VolumeMin = *r.VolumeMin
		}
		if r.VolumeMax != nil {
			rec.VolumeMax = *r.VolumeMax
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}
