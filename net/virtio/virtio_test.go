package virtio

import "testing"

func TestNegotiateKeepsDriverRequestedDeviceSpecificFeature(t *testing.T) {
	deviceFeatures := uint64(1<<netFeatureMAC) | deviceReservedFeatureMask
	driverFeatures := uint64(1 << netFeatureMAC)

	got := negotiate(deviceFeatures, driverFeatures)

	if got&(1<<netFeatureMAC) == 0 {
		t.Fatalf("negotiate(%#x, %#x) = %#x, want netFeatureMAC bit set", deviceFeatures, driverFeatures, got)
	}
}

func TestNegotiateDropsDeviceSpecificFeatureNotRequestedByDriver(t *testing.T) {
	deviceFeatures := uint64(1 << netFeatureMAC)
	driverFeatures := uint64(0)

	got := negotiate(deviceFeatures, driverFeatures)

	if got&(1<<netFeatureMAC) != 0 {
		t.Fatalf("negotiate(%#x, %#x) = %#x, want netFeatureMAC bit cleared (driver didn't request it)", deviceFeatures, driverFeatures, got)
	}
}

func TestNegotiateKeepsReservedFeaturesRegardlessOfDriverRequest(t *testing.T) {
	deviceFeatures := deviceReservedFeatureMask
	driverFeatures := uint64(0)

	got := negotiate(deviceFeatures, driverFeatures)

	want := uint64(deviceReservedFeatureMask) &^ (1<<Packed | 1<<NotificationData)

	if got != want {
		t.Fatalf("negotiate(%#x, %#x) = %#x, want %#x (reserved bits kept unconditionally, except Packed and NotificationData)", deviceFeatures, driverFeatures, got, want)
	}
}

func TestNegotiateAlwaysClearsPackedAndNotificationData(t *testing.T) {
	deviceFeatures := uint64(1<<Packed) | 1<<NotificationData | deviceReservedFeatureMask
	driverFeatures := deviceFeatures

	got := negotiate(deviceFeatures, driverFeatures)

	if got&(1<<Packed) != 0 {
		t.Fatalf("negotiate() kept Packed bit, want cleared")
	}

	if got&(1<<NotificationData) != 0 {
		t.Fatalf("negotiate() kept NotificationData bit, want cleared")
	}
}
