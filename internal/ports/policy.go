package ports

const (
	OverlapSkip  = "skip"
	OverlapDefer = "defer"
)

type Policy struct {
	OnOverlap    string `yaml:"on_overlap"`    // "skip", "defer"
	UpdateBuffer int    `yaml:"update_buffer"` // collector -> cache channel capacity
}
