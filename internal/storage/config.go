package storage

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Enabled reports whether attachments should go to MinIO.
func (c *MinIOConfig) Enabled() bool {
	return c != nil && c.Endpoint != ""
}
