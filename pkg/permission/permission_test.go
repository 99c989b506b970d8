package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	for x := Allowance(0); x < 1<<10; x++ {
		got := Of(x.List()...)
		assert.Equal(t, x, got, "Of(List(%d)) should round-trip", x)
	}
}

func TestCheckIsSupersetRelation(t *testing.T) {
	a := Of(PermUploadFile, PermDownloadFile, PermDeleteFile)

	assert.True(t, Check(a, Of(PermUploadFile)))
	assert.True(t, Check(a, Of(PermUploadFile, PermDownloadFile)))
	assert.False(t, Check(a, Of(PermRenameFile)))
	assert.True(t, Check(a, Allowance(0)))
}

func TestEffectiveAllowanceMergesApplicationAndBucketScope(t *testing.T) {
	bucketA := [16]byte{1}
	bucketB := [16]byte{2}

	scopes := []Scope{
		{BucketID: nil, Allow: Of(PermListDirectory)},
		{BucketID: &bucketA, Allow: Of(PermUploadFile, PermDownloadFile)},
	}

	got := EffectiveAllowance(scopes, bucketA)
	assert.True(t, Check(got, Of(PermListDirectory, PermUploadFile, PermDownloadFile)))

	gotB := EffectiveAllowance(scopes, bucketB)
	assert.True(t, Check(gotB, Of(PermListDirectory)))
	assert.False(t, Check(gotB, Of(PermUploadFile)))
}
