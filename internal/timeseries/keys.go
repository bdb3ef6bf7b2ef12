package timeseries

import "strings"

// Key identifies one monitored entity. Optional parts are left empty.
// Key is comparable and is used directly as a map key.
type Key struct {
	Name      string
	Namespace string
	Container string
	OwnerUID  string
}

// NodeKey returns the key of a node
func NodeKey(name string) Key {
	return Key{Name: name}
}

// PodKey returns the key of a pod
func PodKey(namespace, pod string) Key {
	return Key{Name: pod, Namespace: namespace}
}

// ContainerKey returns the key of a container within a pod
func ContainerKey(namespace, pod, container string) Key {
	return Key{Name: pod, Namespace: namespace, Container: container}
}

// VolumeKey returns the key of a persistent volume claim as mounted by one pod
func VolumeKey(namespace, claim, podUID string) Key {
	return Key{Name: claim, Namespace: namespace, OwnerUID: podUID}
}

// String renders the key as namespace/name[/container][@owner]
func (k Key) String() string {
	var b strings.Builder
	if k.Namespace != "" {
		b.WriteString(k.Namespace)
		b.WriteByte('/')
	}
	b.WriteString(k.Name)
	if k.Container != "" {
		b.WriteByte('/')
		b.WriteString(k.Container)
	}
	if k.OwnerUID != "" {
		b.WriteByte('@')
		b.WriteString(k.OwnerUID)
	}
	return b.String()
}
