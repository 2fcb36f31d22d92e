package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gatefs/gatefs/internal/retry"
	"github.com/gatefs/gatefs/pkg/fault"
	"github.com/gatefs/gatefs/pkg/storage"
)

// deleteBatchSize is the DeleteObjects request ceiling.
const deleteBatchSize = 1000

// keyToPath maps a bucket key back to a backend-rooted path.
func (d *Driver) keyToPath(key string) string {
	p := strings.TrimPrefix(key, d.keyPrefix)
	p = strings.Trim(p, "/")
	return "/" + p
}

// Exists implements storage.Driver.
func (d *Driver) Exists(ctx context.Context, fsPath string) (bool, error) {
	_, err := d.Stat(ctx, fsPath)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat implements storage.Driver. Directories are synthesized: S3 has no
// directory objects, so a path is a directory when a folder marker or any
// descendant key exists under it.
func (d *Driver) Stat(ctx context.Context, fsPath string) (info *storage.ItemInfo, err error) {
	start := time.Now()
	defer func() { d.observe("Stat", start, err) }()

	if isRoot(fsPath) {
		return &storage.ItemInfo{Name: "/", Path: "/", IsDir: true}, nil
	}

	key := d.objectKey(fsPath)

	var head *awss3.HeadObjectOutput
	err = retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
		var err error
		head, err = d.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err == nil {
		return &storage.ItemInfo{
			Name:       path.Base(key),
			Path:       d.keyToPath(key),
			IsDir:      false,
			Size:       aws.ToInt64(head.ContentLength),
			MimeType:   aws.ToString(head.ContentType),
			ModifiedAt: aws.ToTime(head.LastModified),
		}, nil
	}
	if !isNotFoundError(err) {
		return nil, classify("failed to stat object", err)
	}

	// No object at the key; any descendant makes it a directory.
	dirKey := d.directoryKey(fsPath)
	var list *awss3.ListObjectsV2Output
	err = retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
		var err error
		list, err = d.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:  aws.String(d.bucket),
			Prefix:  aws.String(dirKey),
			MaxKeys: aws.Int32(1),
		})
		return err
	})
	if err != nil {
		return nil, classify("failed to probe directory", err)
	}
	if aws.ToInt32(list.KeyCount) > 0 {
		return &storage.ItemInfo{
			Name:  path.Base(strings.TrimSuffix(dirKey, "/")),
			Path:  d.keyToPath(strings.TrimSuffix(dirKey, "/")),
			IsDir: true,
		}, nil
	}

	return nil, fault.NotFound("path %s does not exist", fsPath)
}

// ListDirectory implements storage.Driver using delimiter listing: common
// prefixes become child directories, objects become files. The folder marker
// of the listed directory itself is skipped.
func (d *Driver) ListDirectory(ctx context.Context, fsPath string) (entries []storage.ItemInfo, err error) {
	start := time.Now()
	defer func() { d.observe("ListDirectory", start, err) }()

	dirKey := d.directoryKey(fsPath)
	entries = make([]storage.ItemInfo, 0, 16)

	paginator := awss3.NewListObjectsV2Paginator(d.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(dirKey),
		Delimiter: aws.String("/"),
	})

	sawAny := false
	for paginator.HasMorePages() {
		var page *awss3.ListObjectsV2Output
		err = retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, classify("failed to list directory", err)
		}

		for _, prefix := range page.CommonPrefixes {
			sawAny = true
			child := strings.TrimSuffix(aws.ToString(prefix.Prefix), "/")
			entries = append(entries, storage.ItemInfo{
				Name:  path.Base(child),
				Path:  d.keyToPath(child),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			sawAny = true
			key := aws.ToString(obj.Key)
			if key == dirKey {
				continue // the directory's own folder marker
			}
			entries = append(entries, storage.ItemInfo{
				Name:       path.Base(key),
				Path:       d.keyToPath(key),
				IsDir:      false,
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	if !sawAny && !isRoot(fsPath) {
		// Distinguish an empty-but-absent directory from a file path.
		info, statErr := d.Stat(ctx, fsPath)
		if statErr != nil {
			return nil, statErr
		}
		if !info.IsDir {
			return nil, fault.Validation("path %s is not a directory", fsPath)
		}
	}

	return entries, nil
}

// Download implements storage.Driver. Metadata comes from HeadObject; the
// body streams lazily through Open/OpenRange.
func (d *Driver) Download(ctx context.Context, fsPath string) (dl *storage.Download, err error) {
	start := time.Now()
	defer func() { d.observe("Download", start, err) }()

	info, err := d.Stat(ctx, fsPath)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, fault.Validation("path %s is a directory", fsPath)
	}

	key := d.objectKey(fsPath)

	return &storage.Download{
		Size:          info.Size,
		ContentType:   info.MimeType,
		ETag:          "",
		LastModified:  info.ModifiedAt,
		SupportsRange: true,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return d.openObject(ctx, key, "")
		},
		OpenRange: func(ctx context.Context, rangeStart, rangeEnd int64) (io.ReadCloser, error) {
			return d.openObject(ctx, key, rangeHeader(rangeStart, rangeEnd))
		},
	}, nil
}

func (d *Driver) openObject(ctx context.Context, key, rangeSpec string) (io.ReadCloser, error) {
	in := &awss3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}
	if rangeSpec != "" {
		in.Range = aws.String(rangeSpec)
	}

	var out *awss3.GetObjectOutput
	err := retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
		var err error
		out, err = d.client.GetObject(ctx, in)
		return err
	})
	if err != nil {
		if isInvalidRangeError(err) {
			return nil, fault.Validation("requested range is not satisfiable")
		}
		return nil, classify("failed to get object", err)
	}
	return out.Body, nil
}

func rangeHeader(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// CreateDirectory implements storage.Driver by writing a zero-byte folder
// marker, the convention delimiter listings recognize.
func (d *Driver) CreateDirectory(ctx context.Context, fsPath string) (err error) {
	start := time.Now()
	defer func() { d.observe("CreateDirectory", start, err) }()

	if isRoot(fsPath) {
		return nil
	}

	_, err = d.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.directoryKey(fsPath)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return classify("failed to create directory marker", err)
	}
	return nil
}

// Upload implements storage.Driver. The body streams once, so transient
// failures are not retried here; multipart is the resumable path.
func (d *Driver) Upload(ctx context.Context, fsPath string, body io.Reader, size int64, mimeType string) (err error) {
	start := time.Now()
	defer func() {
		d.observe("Upload", start, err)
		if err == nil && d.metrics != nil {
			d.metrics.RecordBytes("Upload", size)
		}
	}()

	in := &awss3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(fsPath)),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if mimeType != "" {
		in.ContentType = aws.String(mimeType)
	}

	_, err = d.client.PutObject(ctx, in)
	if err != nil {
		return classify("failed to upload object", err)
	}
	return nil
}

// Update implements storage.Driver. S3 PUT replaces atomically, so update
// and upload are the same call.
func (d *Driver) Update(ctx context.Context, fsPath string, body io.Reader, size int64, mimeType string) error {
	return d.Upload(ctx, fsPath, body, size, mimeType)
}

// Rename implements storage.Driver as copy-then-delete. Not atomic: a crash
// between the two phases leaves both trees, never neither.
func (d *Driver) Rename(ctx context.Context, oldPath, newPath string) (err error) {
	start := time.Now()
	defer func() { d.observe("Rename", start, err) }()

	if err := d.Copy(ctx, oldPath, newPath); err != nil {
		return err
	}

	results, err := d.RemoveBatch(ctx, []string{oldPath})
	if err != nil {
		return err
	}
	if results[0].Err != nil {
		return results[0].Err
	}
	return nil
}

// Copy implements storage.Driver. Directories copy key by key, markers
// included, so empty subdirectories survive.
func (d *Driver) Copy(ctx context.Context, srcPath, dstPath string) (err error) {
	start := time.Now()
	defer func() { d.observe("Copy", start, err) }()

	info, err := d.Stat(ctx, srcPath)
	if err != nil {
		return err
	}

	if !info.IsDir {
		return d.copyObject(ctx, d.objectKey(srcPath), d.objectKey(dstPath))
	}

	srcDir := d.directoryKey(srcPath)
	dstDir := d.directoryKey(dstPath)

	paginator := awss3.NewListObjectsV2Paginator(d.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(srcDir),
	})
	for paginator.HasMorePages() {
		var page *awss3.ListObjectsV2Output
		err = retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return classify("failed to list source subtree", err)
		}
		for _, obj := range page.Contents {
			srcKey := aws.ToString(obj.Key)
			dstKey := dstDir + strings.TrimPrefix(srcKey, srcDir)
			if err := d.copyObject(ctx, srcKey, dstKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Driver) copyObject(ctx context.Context, srcKey, dstKey string) error {
	source := (&url.URL{Path: d.bucket + "/" + srcKey}).EscapedPath()

	_, err := d.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(source),
	})
	if err != nil {
		return classify("failed to copy object", err)
	}
	return nil
}

// RemoveBatch implements storage.Driver. Each path is resolved and deleted
// independently; directory paths remove the whole subtree.
func (d *Driver) RemoveBatch(ctx context.Context, paths []string) (results []storage.RemoveResult, err error) {
	start := time.Now()
	defer func() { d.observe("RemoveBatch", start, err) }()

	results = make([]storage.RemoveResult, 0, len(paths))
	for _, p := range paths {
		results = append(results, storage.RemoveResult{
			Path: p,
			Err:  d.removePath(ctx, p),
		})
	}
	return results, nil
}

func (d *Driver) removePath(ctx context.Context, fsPath string) error {
	if isRoot(fsPath) {
		return fault.Validation("cannot remove the mount root")
	}

	info, err := d.Stat(ctx, fsPath)
	if err != nil {
		return err
	}

	if !info.IsDir {
		return d.deleteKeys(ctx, []string{d.objectKey(fsPath)})
	}

	dirKey := d.directoryKey(fsPath)
	paginator := awss3.NewListObjectsV2Paginator(d.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(dirKey),
	})

	batch := make([]string, 0, deleteBatchSize)
	for paginator.HasMorePages() {
		var page *awss3.ListObjectsV2Output
		err = retry.Do(ctx, d.retry, isRetryableError, func(ctx context.Context) error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return classify("failed to list subtree for removal", err)
		}
		for _, obj := range page.Contents {
			batch = append(batch, aws.ToString(obj.Key))
			if len(batch) == deleteBatchSize {
				if err := d.deleteKeys(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		return d.deleteKeys(ctx, batch)
	}
	return nil
}

func (d *Driver) deleteKeys(ctx context.Context, keys []string) error {
	ids := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}

	out, err := d.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
		Bucket: aws.String(d.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return classify("failed to delete objects", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fault.Upstream(
			"backend refused to delete "+aws.ToString(first.Key)+": "+aws.ToString(first.Message),
			nil, false)
	}
	return nil
}

func isRoot(p string) bool {
	return p == "" || p == "/"
}
