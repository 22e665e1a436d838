package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig 对象存储配置。
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	// PublicURL 非空时替代 endpoint 生成公开地址，例如 CDN 域名
	PublicURL string `yaml:"public_url" json:"public_url"`
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioUploader 将图片写入 MinIO/S3 并返回公开地址。
type MinioUploader struct {
	client objectPutter
	cfg    MinioConfig
	newID  func() string
}

// NewMinioUploader 创建 MinIO 客户端，实际连接在首次上传时建立。
func NewMinioUploader(cfg MinioConfig) (*MinioUploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newMinioUploader(client, cfg), nil
}

func newMinioUploader(client objectPutter, cfg MinioConfig) *MinioUploader {
	return &MinioUploader{client: client, cfg: cfg, newID: uuid.NewString}
}

// UploadMany 依次上传文件，返回与输入顺序一致的地址。
func (u *MinioUploader) UploadMany(ctx context.Context, files []File, folder string) ([]string, error) {
	urls := make([]string, 0, len(files))
	for i, f := range files {
		url, err := u.UploadOne(ctx, f, UploadOptions{Folder: folder})
		if err != nil {
			return nil, fmt.Errorf("upload file %d (%s): %w", i, f.Name, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// UploadOne 上传单个文件。
func (u *MinioUploader) UploadOne(ctx context.Context, f File, opts UploadOptions) (string, error) {
	if f.Open == nil {
		return "", fmt.Errorf("file %s has no content", f.Name)
	}
	name := opts.ObjectName
	if name == "" {
		name = u.newID() + strings.ToLower(filepath.Ext(f.Name))
	}
	object := strings.TrimPrefix(path.Join(opts.Folder, name), "/")

	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := u.client.PutObject(ctx, u.cfg.Bucket, object, rc, f.Size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object %s: %w", object, err)
	}
	return u.PublicURL(object), nil
}

// PublicURL 返回对象的公开地址（需要 bucket 策略允许匿名读取）。
func (u *MinioUploader) PublicURL(object string) string {
	if u.cfg.PublicURL != "" {
		return strings.TrimRight(u.cfg.PublicURL, "/") + "/" + object
	}
	protocol := "http"
	if u.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, u.cfg.Endpoint, u.cfg.Bucket, object)
}
