package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func chainOf(t *testing.T, n int) []*AuditRecord {
	t.Helper()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var out []*AuditRecord
	prev := ""
	for i := 0; i < n; i++ {
		p := prev
		r := &AuditRecord{
			ID:           int64(i + 1),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Action:       ActionPHIView,
			Status:       OutcomeSuccess,
			Metadata:     map[string]interface{}{"b": 2, "a": "x"},
			PreviousHash: &p,
		}
		h, err := ChainHash(r)
		require.NoError(t, err)
		prev = h
		out = append(out, r)
	}
	return out
}

func verify(records []*AuditRecord) ChainVerification {
	v := NewChainVerifier()
	for _, r := range records {
		v.Add(r)
	}
	return v.Result()
}

func TestChainHash_Deterministic(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 0, 0, 123456000, time.FixedZone("X", 3600))
	a := &AuditRecord{ID: 1, Timestamp: ts, Action: "a", Metadata: map[string]interface{}{"z": 1, "a": 2}}
	b := &AuditRecord{ID: 1, Timestamp: ts.UTC(), Action: "a", Metadata: map[string]interface{}{"a": 2, "z": 1}}

	ha, err := ChainHash(a)
	require.NoError(t, err)
	hb, err := ChainHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestChainHash_NilAndEmptyEquivalent(t *testing.T) {
	a := &AuditRecord{ID: 3, Action: "x"}
	b := &AuditRecord{ID: 3, Action: "x", Metadata: map[string]interface{}{}, PreviousHash: strPtr("")}

	ha, _ := ChainHash(a)
	hb, _ := ChainHash(b)
	assert.Equal(t, ha, hb)
}

func TestChainHash_CoversEveryField(t *testing.T) {
	base := func() *AuditRecord {
		return &AuditRecord{ID: 1, Action: "a", Status: OutcomeSuccess, PreviousHash: strPtr("p")}
	}
	ref, _ := ChainHash(base())

	mutations := map[string]func(r *AuditRecord){
		"id":            func(r *AuditRecord) { r.ID = 2 },
		"timestamp":     func(r *AuditRecord) { r.Timestamp = time.Unix(1, 0) },
		"email":         func(r *AuditRecord) { r.UserEmail = strPtr("e") },
		"role":          func(r *AuditRecord) { r.UserRole = strPtr("admin") },
		"action":        func(r *AuditRecord) { r.Action = "b" },
		"resource":      func(r *AuditRecord) { r.ResourceID = strPtr("9") },
		"ip":            func(r *AuditRecord) { r.IPAddress = strPtr("1.1.1.1") },
		"user agent":    func(r *AuditRecord) { r.UserAgent = strPtr("curl") },
		"path":          func(r *AuditRecord) { r.RequestPath = strPtr("/x") },
		"status":        func(r *AuditRecord) { r.Status = OutcomeFailure },
		"error message": func(r *AuditRecord) { r.ErrorMessage = strPtr("boom") },
		"metadata":      func(r *AuditRecord) { r.Metadata = map[string]interface{}{"k": "v"} },
		"previous hash": func(r *AuditRecord) { r.PreviousHash = strPtr("q") },
	}
	for name, mutate := range mutations {
		r := base()
		mutate(r)
		h, err := ChainHash(r)
		require.NoError(t, err)
		assert.NotEqual(t, ref, h, name)
	}
}

func TestChainVerifier_CleanChain(t *testing.T) {
	res := verify(chainOf(t, 10))
	assert.True(t, res.IsValid)
	assert.Equal(t, 10, res.TotalLogs)
	assert.Equal(t, 10, res.VerifiedLogs)
	assert.Contains(t, res.Message, "intact")
}

func TestChainVerifier_FirstEntryMustBeEmpty(t *testing.T) {
	records := chainOf(t, 2)
	records[0].PreviousHash = strPtr("abc")

	res := verify(records)
	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.TamperedLogs)
	assert.Equal(t, int64(1), res.TamperedLogs[0].LogID)
	assert.Equal(t, "first entry should have empty previous_hash", res.TamperedLogs[0].Issue)
}

func TestChainVerifier_LegacyNullFirstRecord(t *testing.T) {
	records := chainOf(t, 1)
	records[0].PreviousHash = nil
	h, err := ChainHash(records[0])
	require.NoError(t, err)
	records = append(records, &AuditRecord{ID: 2, Action: "a", PreviousHash: &h})

	res := verify(records)
	assert.True(t, res.IsValid)
	assert.Equal(t, 2, res.VerifiedLogs)
	require.Len(t, res.LegacyRecords, 1)
	assert.Equal(t, int64(1), res.LegacyRecords[0].LogID)
}

func TestChainVerifier_NullHashMidChainIsBroken(t *testing.T) {
	records := chainOf(t, 3)
	records[2].PreviousHash = nil

	res := verify(records)
	assert.False(t, res.IsValid)
	require.Len(t, res.TamperedLogs, 1)
	assert.Equal(t, int64(3), res.TamperedLogs[0].LogID)
	assert.Equal(t, "", res.TamperedLogs[0].StoredHash)
}

func TestChainVerifier_SingleMutationSingleFinding(t *testing.T) {
	for idx := 0; idx < 4; idx++ {
		records := chainOf(t, 5)
		records[idx].Metadata = map[string]interface{}{"tampered": true}

		res := verify(records)
		require.Len(t, res.TamperedLogs, 1, "mutated index %d", idx)
		assert.Equal(t, int64(idx+2), res.TamperedLogs[0].LogID)
		assert.Equal(t, IssueChainBroken, res.TamperedLogs[0].Issue)
		assert.NotEqual(t, res.TamperedLogs[0].ExpectedHash, res.TamperedLogs[0].StoredHash)
	}
}

func TestChainVerifier_Empty(t *testing.T) {
	res := NewChainVerifier().Result()
	assert.True(t, res.IsValid)
	assert.Equal(t, 0, res.TotalLogs)
	assert.NotNil(t, res.TamperedLogs)
}

func TestStripSensitive(t *testing.T) {
	in := map[string]interface{}{
		"email":        "a@b.c",
		"Password":     "x",
		"new_password": "y",
		"apiToken":     "t",
		"clientSecret": "s",
		"nested":       map[string]interface{}{"pwd": "1", "keep": 2},
	}
	out := StripSensitive(in)

	assert.Equal(t, map[string]interface{}{
		"email":  "a@b.c",
		"nested": map[string]interface{}{"keep": 2},
	}, out)
	assert.Contains(t, in, "Password", "input must not be modified")
	assert.Nil(t, StripSensitive(nil))
}

func TestStripSensitive_SlicesAndTypedMaps(t *testing.T) {
	in := map[string]interface{}{
		"accounts": []interface{}{
			map[string]interface{}{"username": "a", "password": "hunter2"},
			"plain",
		},
		"nested":  map[string]string{"apiToken": "tok-123", "region": "eu"},
		"members": []map[string]interface{}{{"name": "b", "secret": "s3"}},
	}
	out := StripSensitive(in)

	assert.Equal(t, map[string]interface{}{
		"accounts": []interface{}{
			map[string]interface{}{"username": "a"},
			"plain",
		},
		"nested":  map[string]string{"region": "eu"},
		"members": []map[string]interface{}{{"name": "b"}},
	}, out)

	accounts := in["accounts"].([]interface{})
	assert.Contains(t, accounts[0], "password", "input must not be modified")
}

func TestAuditEvent_ToRecord(t *testing.T) {
	r := AuditEvent{
		Action:   ActionDataExport,
		Resource: Resource{Type: "patients"},
		Origin:   Origin{IPAddress: "10.1.1.1"},
	}.ToRecord()

	assert.Equal(t, OutcomeSuccess, r.Status)
	assert.Equal(t, "patients", *r.ResourceType)
	assert.Nil(t, r.ResourceID)
	assert.Equal(t, "10.1.1.1", *r.IPAddress)
	assert.Nil(t, r.ErrorCode)
}

func TestNewImmutabilityStatus(t *testing.T) {
	assert.True(t, NewImmutabilityStatus(ProtectionActive, ProtectionActive).IsFullyProtected)

	st := NewImmutabilityStatus(ProtectionMissing, ProtectionActive)
	assert.False(t, st.IsFullyProtected)
	assert.Contains(t, st.Message, "NOT")

	st = NewImmutabilityStatus(ProtectionUnknown, ProtectionUnknown)
	assert.Contains(t, st.Message, "Unable")
}
