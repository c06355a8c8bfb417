package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/xuri/excelize/v2"
)

// Snapshot is the exported form of one reconciled entity set.
type Snapshot struct {
	Kind       ledger.EntityKind `json:"kind"`
	Strategy   Strategy          `json:"strategy"`
	CapturedAt time.Time         `json:"captured_at"`
	Count      int               `json:"count"`
	Records    []ledger.Record   `json:"records"`
}

func (s Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// SnapshotSink stores an exported snapshot and returns where it went.
type SnapshotSink interface {
	Write(ctx context.Context, snap Snapshot) (string, error)
}

var snapshotBases = map[ledger.EntityKind]string{
	ledger.KindFarmer:          "farmers",
	ledger.KindCollector:       "collectors",
	ledger.KindMiller:          "millers",
	ledger.KindBusiness:        "businesses",
	ledger.KindTransaction:     "transactions",
	ledger.KindRiceTransaction: "rice_transactions",
	ledger.KindMilling:         "millings",
	ledger.KindDamage:          "damages",
	ledger.KindRiceDamage:      "rice_damages",
}

// SnapshotName is e.g. "farmers.json".
func SnapshotName(kind ledger.EntityKind, ext string) string {
	base, ok := snapshotBases[kind]
	if !ok {
		base = strings.ToLower(string(kind))
	}
	return base + "." + ext
}

// FileSink writes <dir>/<kind plural>.json, replacing the previous file.
type FileSink struct {
	Dir string
}

func (f FileSink) Write(ctx context.Context, snap Snapshot) (string, error) {
	data, err := snap.JSON()
	if err != nil {
		return "", err
	}
	return writeFileAtomic(f.Dir, SnapshotName(snap.Kind, "json"), data)
}

func writeFileAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return target, nil
}

// XLSXSink writes one sheet per snapshot with the kind's flat columns.
type XLSXSink struct {
	Dir string
}

func (x XLSXSink) Write(ctx context.Context, snap Snapshot) (string, error) {
	data, err := snapshotWorkbook(snap)
	if err != nil {
		return "", err
	}
	return writeFileAtomic(x.Dir, SnapshotName(snap.Kind, "xlsx"), data)
}

func snapshotWorkbook(snap Snapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := string(snap.Kind)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	header := make([]interface{}, 0)
	for _, col := range ledger.Columns(snap.Kind) {
		header = append(header, col)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, rec := range snap.Records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := make([]interface{}, 0)
		for _, v := range ledger.Row(rec) {
			row = append(row, v)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type GCSSink struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

func (g GCSSink) Write(ctx context.Context, snap Snapshot) (string, error) {
	data, err := snap.JSON()
	if err != nil {
		return "", err
	}
	object := path.Join(g.Prefix, SnapshotName(snap.Kind, "json"))
	if g.Client == nil {
		err = utils.UploadBytesToGCS(ctx, g.Bucket, object, data, "application/json")
	} else {
		err = utils.WriteGCSObject(ctx, g.Client, g.Bucket, object, data, "application/json")
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", g.Bucket, object), nil
}

type S3Sink struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

func (s S3Sink) Write(ctx context.Context, snap Snapshot) (string, error) {
	data, err := snap.JSON()
	if err != nil {
		return "", err
	}
	key := path.Join(s.Prefix, SnapshotName(snap.Kind, "json"))
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

// NewS3Client builds a client for AWS S3 or an S3-compatible endpoint such as MinIO.
func NewS3Client(ctx context.Context, region, endpoint string, pathStyle bool) (*s3.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// NewSnapshotSinkFromEnv selects the sink named by SNAPSHOT_SINK. "none" returns nil.
//
//   - SNAPSHOT_DIR (file, xlsx; default ./snapshots)
//   - SNAPSHOT_BUCKET, SNAPSHOT_PREFIX (gcs, s3)
//   - SNAPSHOT_S3_REGION, SNAPSHOT_S3_ENDPOINT, SNAPSHOT_S3_PATH_STYLE (s3)
func NewSnapshotSinkFromEnv(ctx context.Context) (SnapshotSink, error) {
	dir := os.Getenv("SNAPSHOT_DIR")
	if dir == "" {
		dir = "./snapshots"
	}
	bucket := os.Getenv("SNAPSHOT_BUCKET")
	prefix := os.Getenv("SNAPSHOT_PREFIX")

	switch provider := utils.GetStorageProvider(); provider {
	case utils.StorageProviderNone:
		return nil, nil
	case utils.StorageProviderFile:
		return FileSink{Dir: dir}, nil
	case utils.StorageProviderXLSX:
		return XLSXSink{Dir: dir}, nil
	case utils.StorageProviderGCS:
		if bucket == "" {
			return nil, fmt.Errorf("SNAPSHOT_BUCKET required for gcs snapshots")
		}
		client, err := utils.GetGCSClient(ctx)
		if err != nil {
			return nil, err
		}
		return GCSSink{Client: client, Bucket: bucket, Prefix: prefix}, nil
	case utils.StorageProviderS3:
		if bucket == "" {
			return nil, fmt.Errorf("SNAPSHOT_BUCKET required for s3 snapshots")
		}
		client, err := NewS3Client(ctx,
			os.Getenv("SNAPSHOT_S3_REGION"),
			os.Getenv("SNAPSHOT_S3_ENDPOINT"),
			strings.EqualFold(os.Getenv("SNAPSHOT_S3_PATH_STYLE"), "true"))
		if err != nil {
			return nil, err
		}
		return S3Sink{Client: client, Bucket: bucket, Prefix: prefix}, nil
	default:
		return nil, fmt.Errorf("unknown SNAPSHOT_SINK %q", provider)
	}
}
