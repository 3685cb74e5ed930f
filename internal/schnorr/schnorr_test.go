package schnorr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

func mustDecode(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return b
}

// testKey derives a deterministic secret key from a seed.
func testKey(seed string) []byte {
	h := sha256.Sum256([]byte("zapline-test-key:" + seed))
	return h[:]
}

// BIP-340 reference vectors 0 and 1.
var bip340Vectors = []struct {
	secret, public, aux, msg, sig string
}{
	{
		secret: "0000000000000000000000000000000000000000000000000000000000000003",
		public: "F9308A019258C31049344F85F89D5229B531C845836F99B08601F113BCE036F9",
		aux:    "0000000000000000000000000000000000000000000000000000000000000000",
		msg:    "0000000000000000000000000000000000000000000000000000000000000000",
		sig:    "E907831F80848D1069A5371B402410364BDF1C5F8307B0084C55F1CE2DCA821525F66A4A85EA8B71E482A74F382D2CE5EBEEE8FDB2172F477DF4900D310536C0",
	},
	{
		secret: "B7E151628AED2A6ABF7158809CF4F3C762E7160F38B4DA56A784D9045190CFEF",
		public: "DFF1D77F2A671C5F36183726DB2341BE58FEAE1DA2DECED843240F7B502BA659",
		aux:    "0000000000000000000000000000000000000000000000000000000000000001",
		msg:    "243F6A8885A308D313198A2E03707344A4093822299F31D0082EFA98EC4E6C89",
		sig:    "6896BD60EEAE296DB48A229FF71DFE071BDE413E6D43F917DC8DCF8C78DE33418906D11AC976ABCCB20B091292BFF4EA897EFCB639EA871CFA95F6DE339E4B0A",
	},
}

func TestBIP340Vectors(t *testing.T) {
	for i, v := range bip340Vectors {
		sk := mustDecode(t, v.secret)
		pub, err := PublicKey(sk)
		if err != nil {
			t.Fatalf("vector %d: PublicKey: %v", i, err)
		}
		if got := strings.ToUpper(hex.EncodeToString(pub[:])); got != v.public {
			t.Errorf("vector %d: public key = %s, want %s", i, got, v.public)
		}

		sig, err := Sign(mustDecode(t, v.msg), sk, mustDecode(t, v.aux))
		if err != nil {
			t.Fatalf("vector %d: Sign: %v", i, err)
		}
		if got := strings.ToUpper(hex.EncodeToString(sig[:])); got != v.sig {
			t.Errorf("vector %d: signature = %s, want %s", i, got, v.sig)
		}
		if !Verify(mustDecode(t, v.msg), mustDecode(t, v.public), mustDecode(t, v.sig)) {
			t.Errorf("vector %d: reference signature does not verify", i)
		}
	}
}

func TestTaggedHash(t *testing.T) {
	tag := sha256.Sum256([]byte(TagChallenge))
	data := []byte("hello")
	want := sha256.Sum256(append(append(append([]byte{}, tag[:]...), tag[:]...), data...))
	if got := TaggedHash(TagChallenge, []byte("hel"), []byte("lo")); got != want {
		t.Fatalf("TaggedHash = %x, want %x", got, want)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	for _, seed := range []string{"alice", "bob", "carol", "dave", "erin", "frank"} {
		sk := testKey(seed)
		pub, err := PublicKey(sk)
		if err != nil {
			t.Fatalf("%s: PublicKey: %v", seed, err)
		}
		msg := sha256.Sum256([]byte("message for " + seed))
		for _, aux := range [][]byte{make([]byte, 32), bytes.Repeat([]byte{0xff}, 32), testKey("aux-" + seed)} {
			sig, err := Sign(msg[:], sk, aux)
			if err != nil {
				t.Fatalf("%s: Sign: %v", seed, err)
			}
			if !Verify(msg[:], pub[:], sig[:]) {
				t.Fatalf("%s: signature does not verify", seed)
			}
		}
	}
}

func TestSignDeterministic(t *testing.T) {
	sk := testKey("determinism")
	msg := sha256.Sum256([]byte("same message"))
	aux := testKey("same aux")
	a, err := Sign(msg[:], sk, aux)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Sign(msg[:], sk, aux)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("Sign is not deterministic: %x != %x", a, b)
	}
}

func TestVerifyTamperSensitivity(t *testing.T) {
	sk := testKey("tamper")
	pub, _ := PublicKey(sk)
	msg := sha256.Sum256([]byte("do not touch"))
	sig, err := Sign(msg[:], sk, make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}

	flip := func(b []byte, i int) []byte {
		out := append([]byte{}, b...)
		out[i] ^= 1 << (i % 8)
		return out
	}

	for i := range sig {
		if Verify(msg[:], pub[:], flip(sig[:], i)) {
			t.Errorf("signature with byte %d flipped still verifies", i)
		}
	}
	for i := range msg {
		if Verify(flip(msg[:], i), pub[:], sig[:]) {
			t.Errorf("message with byte %d flipped still verifies", i)
		}
	}
	for i := range pub {
		if Verify(msg[:], flip(pub[:], i), sig[:]) {
			t.Errorf("public key with byte %d flipped still verifies", i)
		}
	}
}

func TestVerifyRejects(t *testing.T) {
	v := bip340Vectors[1]
	msg := mustDecode(t, v.msg)
	pub := mustDecode(t, v.public)
	sig := mustDecode(t, v.sig)

	fieldP := mustDecode(t, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEFFFFFC2F")
	orderN := mustDecode(t, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")

	for _, tc := range []struct {
		name          string
		msg, pub, sig []byte
	}{
		{"r equals p", msg, pub, append(append([]byte{}, fieldP...), sig[32:]...)},
		{"s equals n", msg, pub, append(append([]byte{}, sig[:32]...), orderN...)},
		{"public key equals p", msg, fieldP, sig},
		{"public key not on curve", msg, mustDecode(t, "EEFDEA4CDB677750A420FEE807EACF21EB9898AE79B9768766E4FAA04A2D4A34"), sig},
		{"short signature", msg, pub, sig[:63]},
		{"short message", msg[:31], pub, sig},
		{"short public key", msg, pub[:31], sig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if Verify(tc.msg, tc.pub, tc.sig) {
				t.Fatal("Verify = true, want false")
			}
		})
	}
}

func TestSignRejectsBadInputs(t *testing.T) {
	msg := make([]byte, 32)
	aux := make([]byte, 32)
	orderN := mustDecode(t, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141")

	for _, tc := range []struct {
		name         string
		msg, sk, aux []byte
	}{
		{"zero key", msg, make([]byte, 32), aux},
		{"key equals n", msg, orderN, aux},
		{"short key", msg, make([]byte, 31), aux},
		{"short message", msg[:16], testKey("x"), aux},
		{"short aux", msg, testKey("x"), aux[:8]},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Sign(tc.msg, tc.sk, tc.aux)
			if !zaperr.Is(err, zaperr.KindMalformedInput) {
				t.Fatalf("Sign err = %v, want MALFORMED_INPUT", err)
			}
		})
	}
}

func FuzzSignVerify(f *testing.F) {
	f.Add([]byte("seed"), []byte("message"), []byte("aux"))
	f.Add([]byte{}, []byte{}, []byte{})
	f.Fuzz(func(t *testing.T, seed, message, auxSeed []byte) {
		sk := sha256.Sum256(append([]byte("sk"), seed...))
		msg := sha256.Sum256(message)
		aux := sha256.Sum256(auxSeed)
		sig, err := Sign(msg[:], sk[:], aux[:])
		if err != nil {
			// Only a hash landing outside [1, n) may fail; both are negligible.
			t.Skipf("sign: %v", err)
		}
		pub, err := PublicKey(sk[:])
		if err != nil {
			t.Fatal(err)
		}
		if !Verify(msg[:], pub[:], sig[:]) {
			t.Fatalf("round trip failed for seed %x", seed)
		}
	})
}
