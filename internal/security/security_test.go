package security

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

func TestVerifyPasswordPlain(t *testing.T) {
	var cred = StoredCredential{Kind: HashPlain, Hash: "hunter2"}
	ok, err := VerifyPassword(cred, "hunter2")
	if err != nil || !ok {
		t.Fatalf("expected plain password to verify, got ok=%v err=%v", ok, err)
	}
	ok, _ = VerifyPassword(cred, "wrong")
	if ok {
		t.Fatalf("expected wrong plain password to fail")
	}
}

func TestVerifyPasswordSHA256WithSalt(t *testing.T) {
	var sum = sha256.Sum256([]byte("saltpw"))
	var cred = StoredCredential{Kind: HashSHA256, Salt: "salt", SaltAt: SaltPrefix, Hash: hex.EncodeToString(sum[:])}
	ok, err := VerifyPassword(cred, "pw")
	if err != nil || !ok {
		t.Fatalf("expected salted sha256 to verify, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyPasswordBcrypt(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	var cred = StoredCredential{Kind: HashBcrypt, Hash: string(hashed)}
	ok, err := VerifyPassword(cred, "s3cret")
	if err != nil || !ok {
		t.Fatalf("expected bcrypt to verify, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyPasswordPBKDF2Defaults(t *testing.T) {
	var derived = pbkdf2.Key([]byte("pw"), []byte("abc"), DefaultPBKDF2Params.Iterations, DefaultPBKDF2Params.KeyLen, sha256.New)
	var cred = StoredCredential{Kind: HashPBKDF2, Salt: "abc", Hash: hex.EncodeToString(derived)}
	ok, err := VerifyPassword(cred, "pw")
	if err != nil || !ok {
		t.Fatalf("expected default-params pbkdf2 to verify, got ok=%v err=%v", ok, err)
	}
	if ok, _ := VerifyPassword(cred, "wrong"); ok {
		t.Fatalf("wrong password must not verify")
	}
}

func TestACLDenyBeatsAllow(t *testing.T) {
	var acl = NewACL()
	acl.AddRule(Rule{SubjectKind: SubjectUser, Resource: "alice", Topic: "#", Action: ActionAll, Permission: PermissionAllow})
	acl.AddRule(Rule{SubjectKind: SubjectUser, Resource: "alice", Topic: "secret/+", Action: ActionPublish, Permission: PermissionDeny})

	if p := acl.Check("c1", "alice", "1.2.3.4", "secret/x", ActionPublish); p != PermissionDeny {
		t.Fatalf("expected deny, got %s", p)
	}
	if p := acl.Check("c1", "alice", "1.2.3.4", "public/x", ActionPublish); p != PermissionAllow {
		t.Fatalf("expected default allow, got %s", p)
	}
}

func TestBlacklistPrecedence(t *testing.T) {
	var bl = NewBlacklist()
	bl.Add(BlacklistEntry{Kind: BlacklistUser, Resource: "bob", EndTime: 1 << 40})

	if !bl.Denied("bob", "c1", "1.2.3.4", 100) {
		t.Fatalf("expected bob to be denied")
	}
	if bl.Denied("alice", "c1", "1.2.3.4", 100) {
		t.Fatalf("expected alice to be allowed")
	}
}

func TestBlacklistExpiredIgnored(t *testing.T) {
	var bl = NewBlacklist()
	bl.Add(BlacklistEntry{Kind: BlacklistIP, Resource: "10.0.0.1", EndTime: 50})
	if bl.Denied("x", "y", "10.0.0.1", 100) {
		t.Fatalf("expired entry must be ignored")
	}
}

func TestBlacklistCIDR(t *testing.T) {
	var bl = NewBlacklist()
	bl.Add(BlacklistEntry{Kind: BlacklistIPCIDR, Resource: "10.0.0.0/24", EndTime: 1 << 40})
	if !bl.Denied("x", "y", "10.0.0.5", 1) {
		t.Fatalf("expected CIDR match to deny")
	}
	if bl.Denied("x", "y", "10.0.1.5", 1) {
		t.Fatalf("expected address outside CIDR to be allowed")
	}
}

func TestFlappingDetector(t *testing.T) {
	var f = NewFlappingDetector(60, 3, 120)
	for i := 0; i < 3; i++ {
		if !f.Allow("c1", 0) {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if f.Allow("c1", 1) {
		t.Fatalf("4th attempt within window should be refused")
	}
	if f.Allow("c1", 10) {
		t.Fatalf("still within ban_time, should remain refused")
	}
	if !f.Allow("c1", 300) {
		t.Fatalf("after ban_time elapses, should be allowed again")
	}
}

func TestAuthenticatorCacheFallback(t *testing.T) {
	var store = &mapUserStore{users: map[string]StoredCredential{
		"alice": {Kind: HashPlain, Hash: "pw"},
	}}
	var auth = NewAuthenticator(store)

	ok, err := auth.Authenticate("alice", "pw")
	if err != nil || !ok {
		t.Fatalf("expected auth to succeed via store fallback, got ok=%v err=%v", ok, err)
	}
	if store.lookups != 1 {
		t.Fatalf("expected exactly one store lookup, got %d", store.lookups)
	}

	ok, err = auth.Authenticate("alice", "pw")
	if err != nil || !ok {
		t.Fatalf("expected cached auth to succeed, got ok=%v err=%v", ok, err)
	}
	if store.lookups != 1 {
		t.Fatalf("expected cache hit to avoid a second store lookup, got %d lookups", store.lookups)
	}
}

type mapUserStore struct {
	users   map[string]StoredCredential
	lookups int
}

func (m *mapUserStore) LookupUser(username string) (StoredCredential, error) {
	m.lookups++
	cred, ok := m.users[username]
	if !ok {
		return StoredCredential{}, ErrUserNotFound
	}
	return cred, nil
}
