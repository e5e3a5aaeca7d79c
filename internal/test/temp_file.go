package test

import "os"

// CreateTempFile creates a temporary file with given content.
func CreateTempFile(byts []byte) (string, error) {
	tmpf, err := os.CreateTemp(os.TempDir(), "livefmp4-")
	if err != nil {
		return "", err
	}
	defer tmpf.Close()

	_, err = tmpf.Write(byts)
	if err != nil {
		return "", err
	}

	return tmpf.Name(), nil
}
