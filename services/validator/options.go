package validator

// TxValidatorOptions holds optional TxValidator configuration.
type TxValidatorOptions struct {
	sigCacheSize   uint
	disableCache   bool
	workerOverride *int
}

// TxValidatorOption is a function that sets some option on the TxValidatorOptions struct
type TxValidatorOption func(*TxValidatorOptions)

// NewTxValidatorOptions applies opts over the defaults.
func NewTxValidatorOptions(opts ...TxValidatorOption) *TxValidatorOptions {
	options := &TxValidatorOptions{
		sigCacheSize: 50_000,
	}

	for _, o := range opts {
		o(options)
	}

	return options
}

// WithSigCacheSize sets the number of entries of the shared signature cache.
func WithSigCacheSize(size uint) TxValidatorOption {
	return func(o *TxValidatorOptions) {
		o.sigCacheSize = size
	}
}

// WithoutScriptCache disables the script execution cache.
func WithoutScriptCache() TxValidatorOption {
	return func(o *TxValidatorOptions) {
		o.disableCache = true
	}
}

// WithWorkers overrides the configured number of script verification workers.
// Zero runs every check on the calling goroutine.
func WithWorkers(n int) TxValidatorOption {
	return func(o *TxValidatorOptions) {
		o.workerOverride = &n
	}
}
