package cryptotest

// NoopService stores values in the clear. Test use only.
type NoopService struct{}

func (NoopService) Seal(plaintext, _ string) (string, error)  { return plaintext, nil }
func (NoopService) Open(ciphertext, _ string) (string, error) { return ciphertext, nil }
