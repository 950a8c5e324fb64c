package proxmox

// ContainerSpecs is the reshaped container status returned to clients.
type ContainerSpecs struct {
	VCPU        float64 `json:"vcpu"`
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage int64   `json:"memoryUsage"`
	MaxMemory   int64   `json:"maxMemory"`
	DiskUsage   int64   `json:"diskUsage"`
	MaxDisk     int64   `json:"maxDisk"`
	Network     int64   `json:"network"`
	MaxNetwork  int64   `json:"maxNetwork"`
}

type statusResponse struct {
	Data *containerStatus `json:"data"`
}

// containerStatus is the subset of /lxc/{vmid}/status/current we use.
type containerStatus struct {
	CPUs    float64 `json:"cpus"`
	CPU     float64 `json:"cpu"`
	Mem     int64   `json:"mem"`
	MaxMem  int64   `json:"maxmem"`
	Disk    int64   `json:"disk"`
	MaxDisk int64   `json:"maxdisk"`
	NetIn   int64   `json:"netin"`
	NetOut  int64   `json:"netout"`
	Status  string  `json:"status"`
	Name    string  `json:"name"`
}

// netin/netout map onto network/maxNetwork; clients depend on these names.
func (s *containerStatus) toSpecs() *ContainerSpecs {
	return &ContainerSpecs{
		VCPU:        s.CPUs,
		CPUUsage:    s.CPU,
		MemoryUsage: s.Mem,
		MaxMemory:   s.MaxMem,
		DiskUsage:   s.Disk,
		MaxDisk:     s.MaxDisk,
		Network:     s.NetIn,
		MaxNetwork:  s.NetOut,
	}
}

type taskResponse struct {
	Data string `json:"data"`
}
