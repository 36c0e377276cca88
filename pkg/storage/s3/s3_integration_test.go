package s3

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	storage "github.com/aws/aws-sdk-go/service/s3"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kurdzik/PG-backup-manager/pkg/testlib"
)

func TestMinIO(t *testing.T) {
	testlib.RequireDocker(t)

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "could not connect to docker")
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "minio/minio",
		Tag:        "latest",
		Cmd:        []string{"server", "/data"},
		Env:        []string{"MINIO_ROOT_USER=minioadmin", "MINIO_ROOT_PASSWORD=minioadmin"},
	})
	require.NoError(t, err, "could not start minio")
	defer func() {
		if err := pool.Purge(resource); err != nil {
			t.Fatalf("Could not purge resource: %s", err)
		}
	}()

	cfg := Config{
		Endpoint:        fmt.Sprintf("http://%s", resource.GetHostPort("9000/tcp")),
		Region:          "us-east-1",
		Bucket:          "backups",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Prefix:          "it",
	}
	require.NoError(t, pool.Retry(func() error {
		sess, err := NewSession(cfg)
		if err != nil {
			return err
		}
		_, err = storage.New(sess).CreateBucket(&storage.CreateBucketInput{Bucket: aws.String(cfg.Bucket)})
		return err
	}))

	b, err := New(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Publish(ctx, "backup_20240115_020000.dump", stage(t, "integration"))
	require.NoError(t, err)

	names, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup_20240115_020000.dump"}, names)

	path, cleanup, err := b.Fetch(ctx, "backup_20240115_020000.dump", t.TempDir())
	require.NoError(t, err)
	defer cleanup()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "integration", string(data))

	require.NoError(t, b.Delete(ctx, "backup_20240115_020000.dump"))
}
